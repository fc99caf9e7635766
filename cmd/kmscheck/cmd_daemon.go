package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/prometheus"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/daemon"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/emitter"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/telemetry"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

var (
	daemonInterval    time.Duration
	daemonMetricsAddr string
	daemonStoragePath string
	daemonOnce        bool
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the check on an interval",
	Long: `Run kmscheck continuously, checking the account at a fixed interval.

Features:
- Prometheus metrics on /metrics
- Health checks on /health, /-/healthy, /-/ready
- Finding history in a local bbolt database
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  kmscheck daemon                          # Run with config defaults
  kmscheck daemon --interval 15m           # Check every 15 minutes
  kmscheck daemon --metrics-addr :2112     # Custom metrics address
  kmscheck daemon --storage ./kmscheck.db  # Keep finding history`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Check interval (overrides config)")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics HTTP server address (overrides config)")
	daemonCmd.Flags().StringVar(&daemonStoragePath, "storage", "", "History database path (overrides config)")
	daemonCmd.Flags().BoolVar(&daemonOnce, "once", false, "Run a single check and exit")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if daemonInterval > 0 {
		cfg.Scanner.Interval = daemonInterval
	}
	if daemonMetricsAddr != "" {
		cfg.Scanner.MetricsAddr = daemonMetricsAddr
	}
	if daemonStoragePath != "" {
		cfg.Storage.Path = daemonStoragePath
	}
	if daemonOnce {
		cfg.Scanner.OneShot = true
	}
	if err := setupLogging(cfg.Log, os.Stderr); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	promExporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}
	tp, err := telemetry.NewProvider(ctx, cfg.OTEL, promExporter)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTelemetry(tp)

	p, awsCfg, err := newPlugin(ctx, cfg)
	if err != nil {
		return err
	}

	notifier, err := emitter.New(cfg.Notify, awsCfg)
	if err != nil {
		return err
	}

	history, err := openHistory(cfg.Storage)
	if err != nil {
		return err
	}
	var (
		recorder daemon.Recorder
		baseline []finding.Finding
	)
	if history != nil {
		defer func() { _ = history.Close() }()
		recorder = history
		baseline = history.Active()
	}

	promEmitter, err := emitter.NewPrometheusEmitter(baseline)
	if err != nil {
		return fmt.Errorf("failed to create emitter: %w", err)
	}

	d, err := daemon.NewDaemon(daemon.Config{
		Interval:    cfg.Scanner.Interval,
		MetricsAddr: cfg.Scanner.MetricsAddr,
		OneShot:     cfg.Scanner.OneShot,
	}, &recordingPlugin{Plugin: p, telemetry: tp}, emitter.NewMultiEmitter(promEmitter, notifier), recorder)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	defer func() { _ = d.Close() }()

	log.Info().
		Str("account", p.AccountID()).
		Str("region", p.Region()).
		Dur("interval", cfg.Scanner.Interval).
		Str("metrics_addr", cfg.Scanner.MetricsAddr).
		Str("channel", cfg.Notify.Channel).
		Bool("one_shot", cfg.Scanner.OneShot).
		Msg("kmscheck daemon starting")

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	log.Info().Msg("daemon stopped")
	return nil
}
