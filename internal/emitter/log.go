package emitter

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// LogEmitter writes the run summary to the log.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates an emitter writing to the global logger.
func NewLogEmitter() *LogEmitter {
	return &LogEmitter{logger: log.Logger}
}

// NewLogEmitterWithLogger creates an emitter writing to logger.
func NewLogEmitterWithLogger(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit logs the completion line, including when nothing was found.
func (e *LogEmitter) Emit(_ context.Context, report finding.Report) error {
	findings := report.Findings
	if findings == nil {
		findings = []finding.Finding{}
	}
	body, err := json.Marshal(findings)
	if err != nil {
		return err
	}

	ev := e.logger.Info()
	if report.Status() != finding.RunClean {
		ev = e.logger.Warn()
	}

	ev.Str("status", string(report.Status())).
		Str("account", report.Account).
		Str("analyzer", report.AnalyzerARN).
		Int("keys", len(report.CustomerKeys)).
		Int("analyzed", len(report.Analyzed)).
		Strs("pending", report.Pending).
		Int("scan_failures", len(report.ScanFailures)).
		Int("fetch_failures", len(report.FetchFailures)).
		RawJSON("findings", body).
		Msg("check completed")
	return nil
}

// Close is a no-op for the log emitter.
func (e *LogEmitter) Close() error {
	return nil
}
