package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Policy.ToPolicy().Validate(); err != nil {
		t.Fatalf("Default() policy should validate, got %v", err)
	}
	if cfg.Port != 30000 {
		t.Fatalf("Port = %d, want 30000", cfg.Port)
	}
	if cfg.BindHost != "127.0.0.1" {
		t.Fatalf("BindHost = %q, want 127.0.0.1", cfg.BindHost)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dataservd.yaml")
	yamlContents := "port: 40000\nbindhost: 0.0.0.0\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yamlContents), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 40000 {
		t.Fatalf("Port = %d, want 40000", cfg.Port)
	}
	if cfg.BindHost != "0.0.0.0" {
		t.Fatalf("BindHost = %q, want 0.0.0.0", cfg.BindHost)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("DATASERVD_PORT", "50000")
	t.Setenv("DATASERVD_LOG_LEVEL", "warning")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 50000 {
		t.Fatalf("Port = %d, want 50000 from env override", cfg.Port)
	}
	if cfg.Log.Level != "warning" {
		t.Fatalf("Log.Level = %q, want warning from env override", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dataservd.yaml")
	yamlContents := "policy:\n  timeout: 1s\n  keepalivetimeout: 3s\n  opstimeout: 10s\n"
	if err := os.WriteFile(path, []byte(yamlContents), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want validation error for timeout < keepalive+ops")
	}
}
