package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/config"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/daemon"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/emitter"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/telemetry"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

var (
	runDryRun bool
	runOutput string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the check once and publish findings",
	Long: `Run a single check: resolve an analyzer, scan every customer managed
KMS key, wait for the analysis and publish the keys found to be public.

With --dry-run the findings are only logged and printed.`,
	Example: `  kmscheck run                          # Scan and notify
  kmscheck run --dry-run                # Scan without publishing
  kmscheck run --output json            # Print findings as JSON
  kmscheck run --config kmscheck.toml   # Use a config file`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Do not publish findings")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "Output format: text, json")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if runOutput != "text" && runOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be one of: text, json)", runOutput)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Scanner.OneShot = true
	if runDryRun {
		cfg.Notify.Channel = config.ChannelNone
	}
	if err := setupLogging(cfg.Log, os.Stderr); err != nil {
		return err
	}

	ctx := commandContext(cmd)

	tp, err := telemetry.NewProvider(ctx, cfg.OTEL)
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
	var recorder daemon.Recorder
	if history != nil {
		defer func() { _ = history.Close() }()
		recorder = history
	}

	d, err := daemon.NewDaemon(daemon.Config{OneShot: true}, &recordingPlugin{Plugin: p, telemetry: tp}, notifier, recorder)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}
	defer func() { _ = d.Close() }()

	return writeReport(cmd, d.RunOnce(ctx), runOutput)
}

func writeReport(cmd *cobra.Command, report finding.Report, format string) error {
	out := cmd.OutOrStdout()
	if format != "json" {
		printSummary(out, report)
		return nil
	}

	data, err := finding.Marshal(report.Findings)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func shutdownTelemetry(tp *telemetry.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}
