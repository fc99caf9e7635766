package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/config"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/plugin"
	awsplugin "github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/plugin/aws"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/storage"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/telemetry"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// historyRetention is the number of runs kept when history is compacted.
const historyRetention = 1000

// newPlugin loads AWS credentials and builds the check plugin. The loaded
// AWS config is returned so notifiers share the same credentials.
func newPlugin(ctx context.Context, cfg *config.Config) (*awsplugin.Plugin, aws.Config, error) {
	awsCfg, err := awsplugin.LoadAWSConfig(ctx, cfg.AWS.Region, cfg.AWS.Profile)
	if err != nil {
		return nil, aws.Config{}, err
	}

	p, err := awsplugin.NewFromConfig(ctx, awsCfg, awsplugin.ConfigFrom(cfg))
	if err != nil {
		return nil, aws.Config{}, fmt.Errorf("create aws plugin: %w", err)
	}
	return p, awsCfg, nil
}

// recordingPlugin wraps a plugin so every scan is traced and recorded.
type recordingPlugin struct {
	plugin.Plugin
	telemetry *telemetry.Provider
}

func (r *recordingPlugin) Scan(ctx context.Context) (finding.Report, error) {
	ctx, span := r.telemetry.StartSpan(ctx, "kmscheck.run")
	defer span.End()

	report, err := r.Plugin.Scan(ctx)
	r.telemetry.RecordRun(ctx, report)
	return report, err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openHistory opens the finding history, or returns nil when disabled.
func openHistory(cfg config.StorageConfig) (*storage.History, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	h, err := storage.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := h.Compact(historyRetention); err != nil {
		log.Warn().Err(err).Msg("history compaction failed")
	}
	return h, nil
}

// printSummary writes a human readable summary of a run.
func printSummary(w io.Writer, report finding.Report) {
	fmt.Fprintf(w, "Account:  %s\n", report.Account)
	fmt.Fprintf(w, "Region:   %s\n", report.Region)
	fmt.Fprintf(w, "Analyzer: %s\n", report.AnalyzerARN)
	fmt.Fprintf(w, "Status:   %s\n", report.Status())
	fmt.Fprintf(w, "Keys:     %d customer managed, %d analyzed, %d pending\n",
		len(report.CustomerKeys), len(report.Analyzed), len(report.Pending))

	if !report.HasFindings() {
		fmt.Fprintln(w, "\nNo publicly accessible keys found.")
		return
	}

	fmt.Fprintf(w, "\nPublic keys (%d):\n", len(report.Findings))
	for _, f := range report.Findings {
		fmt.Fprintf(w, "  %s\n", f.ResourceARN)
		if len(f.Actions) > 0 {
			fmt.Fprintf(w, "    actions: %s\n", strings.Join(f.Actions, ", "))
		}
	}
}
