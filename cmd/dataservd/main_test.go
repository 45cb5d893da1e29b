package main

import (
	"testing"

	"github.com/nspyre-project/dataservd/internal/config"
)

func TestApplyFlagOverrides(t *testing.T) {
	cmd := rootCmd()
	if err := cmd.ParseFlags([]string{
		"--port", "40000",
		"--bind", "0.0.0.0",
		"--log-level", "debug",
		"--log-format", "json",
		"--metrics-addr", ":9100",
	}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	cfg := config.Default()
	applyFlagOverrides(cfg, cmd)

	if cfg.Port != 40000 {
		t.Fatalf("Port = %d, want 40000", cfg.Port)
	}
	if cfg.BindHost != "0.0.0.0" {
		t.Fatalf("BindHost = %q, want 0.0.0.0", cfg.BindHost)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("Log.Format = %q, want json", cfg.Log.Format)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9100" {
		t.Fatalf("Metrics = %+v, want enabled at :9100", cfg.Metrics)
	}
}

func TestApplyFlagOverridesLeavesDefaultsUntouched(t *testing.T) {
	cmd := rootCmd()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	cfg := config.Default()
	applyFlagOverrides(cfg, cmd)

	want := config.Default()
	if *cfg != *want {
		t.Fatalf("applyFlagOverrides with no flags set changed config: got %+v, want %+v", cfg, want)
	}
}
