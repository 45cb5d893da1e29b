// Command dataservd runs the pub-sub data broker described in
// SPEC_FULL.md: a single TCP listener multiplexing any number of named
// datasets, each with one source and many sinks.
//
// Grounded on docker/distribution's registry.ServeCmd: a single cobra
// root command, config loaded before the server starts, and an
// os/signal-driven graceful shutdown that waits for in-flight
// connections to finish before exiting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nspyre-project/dataservd/internal/broker"
	"github.com/nspyre-project/dataservd/internal/config"
	"github.com/nspyre-project/dataservd/internal/dataset"
	"github.com/nspyre-project/dataservd/internal/dlog"
	"github.com/nspyre-project/dataservd/internal/metrics"
)

var (
	flagPort        int
	flagBindHost    string
	flagConfigPath  string
	flagLogLevel    string
	flagLogFormat   string
	flagMetricsAddr string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataservd",
		Short: "dataservd streams named datasets from one source to many sinks over TCP",
		Long: "dataservd multiplexes many named datasets on a single TCP port: " +
			"each dataset has one producing source and any number of consuming sinks.",
		RunE: runServe,
	}

	cmd.Flags().IntVarP(&flagPort, "port", "p", 0, "TCP port to listen on (default 30000, or from config)")
	cmd.Flags().StringVar(&flagBindHost, "bind", "", "address to bind to (default 127.0.0.1, or from config)")
	cmd.Flags().StringVar(&flagConfigPath, "config", "", "path to an optional YAML configuration file")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warning, error (default from config)")
	cmd.Flags().StringVar(&flagLogFormat, "log-format", "", "log format: text or json (default from config)")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "address for the Prometheus /metrics endpoint; empty disables it")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	applyFlagOverrides(cfg, cmd)

	if err := dlog.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	log := dlog.For("broker")

	recorder := metrics.NewRecorder()
	listeners := dataset.Listeners{
		OnQueueDepth: recorder.SetQueueDepth,
		OnDropped:    recorder.IncDropped,
	}

	var metricsServer interface {
		Shutdown(ctx context.Context) error
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		srv, err := metrics.Serve(cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		metricsServer = srv
		log.Infof("metrics listening on %s", cfg.Metrics.Addr)
	}

	registry := broker.NewRegistry(listeners)
	b := broker.New(cfg.BindHost, cfg.Port, cfg.Policy.ToPolicy(), registry, recorder, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutdown signal received")
		b.Stop()
		if metricsServer != nil {
			metricsServer.Shutdown(context.Background()) //nolint:errcheck
		}
	}()

	if err := b.Serve(); err != nil {
		return fmt.Errorf("bind failure: %w", err)
	}
	log.Info("dataservd stopped cleanly")
	return nil
}

func applyFlagOverrides(cfg *config.Config, cmd *cobra.Command) {
	if cmd.Flags().Changed("port") {
		cfg.Port = flagPort
	}
	if cmd.Flags().Changed("bind") {
		cfg.BindHost = flagBindHost
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = flagLogFormat
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = flagMetricsAddr
		cfg.Metrics.Enabled = flagMetricsAddr != ""
	}
}
