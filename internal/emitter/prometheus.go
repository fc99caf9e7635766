package emitter

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// PrometheusEmitter records check results as OTEL metrics, exported in
// Prometheus format by the daemon.
type PrometheusEmitter struct {
	meter metric.Meter

	// Metrics
	publicKeyInfo       metric.Int64ObservableGauge
	runDuration         metric.Float64Histogram
	runsTotal           metric.Int64Counter
	keysScannedTotal    metric.Int64Counter
	pendingTotal        metric.Int64Counter
	resourceErrorsTotal metric.Int64Counter
	findingChangesTotal metric.Int64Counter

	// State for observable gauge
	mu       sync.RWMutex
	findings []finding.Finding

	diffTracker *DiffTracker
}

// NewPrometheusEmitter creates a Prometheus emitter. A non-nil baseline
// seeds the diff tracker so the first run reports changes against it.
func NewPrometheusEmitter(baseline []finding.Finding) (*PrometheusEmitter, error) {
	e := &PrometheusEmitter{
		meter:       otel.Meter("kmscheck"),
		findings:    make([]finding.Finding, 0),
		diffTracker: NewDiffTracker(),
	}
	if baseline != nil {
		e.diffTracker.Seed(baseline)
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.publicKeyInfo, err = e.meter.Int64ObservableGauge(
		"kmscheck_public_key_info",
		metric.WithDescription("KMS customer keys currently reported public"),
		metric.WithInt64Callback(e.observeFindings),
	)
	if err != nil {
		return fmt.Errorf("create public_key_info gauge: %w", err)
	}

	e.runDuration, err = e.meter.Float64Histogram(
		"kmscheck_run_duration_seconds",
		metric.WithDescription("Time taken by a check run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create run_duration histogram: %w", err)
	}

	e.runsTotal, err = e.meter.Int64Counter(
		"kmscheck_runs_total",
		metric.WithDescription("Total check runs by status"),
	)
	if err != nil {
		return fmt.Errorf("create runs counter: %w", err)
	}

	e.keysScannedTotal, err = e.meter.Int64Counter(
		"kmscheck_keys_scanned_total",
		metric.WithDescription("Total customer keys submitted for analysis"),
	)
	if err != nil {
		return fmt.Errorf("create keys_scanned counter: %w", err)
	}

	e.pendingTotal, err = e.meter.Int64Counter(
		"kmscheck_keys_pending_total",
		metric.WithDescription("Total keys not analyzed within the poll budget"),
	)
	if err != nil {
		return fmt.Errorf("create keys_pending counter: %w", err)
	}

	e.resourceErrorsTotal, err = e.meter.Int64Counter(
		"kmscheck_resource_errors_total",
		metric.WithDescription("Total per-key scan and fetch failures"),
	)
	if err != nil {
		return fmt.Errorf("create resource_errors counter: %w", err)
	}

	e.findingChangesTotal, err = e.meter.Int64Counter(
		"kmscheck_finding_changes_total",
		metric.WithDescription("Total public key changes detected between runs"),
	)
	if err != nil {
		return fmt.Errorf("create finding_changes counter: %w", err)
	}

	return nil
}

// Emit records the report as metrics.
func (e *PrometheusEmitter) Emit(ctx context.Context, report finding.Report) error {
	attrs := []attribute.KeyValue{
		attribute.String("account", report.Account),
		attribute.String("region", report.Region),
	}
	opts := metric.WithAttributes(attrs...)

	e.runDuration.Record(ctx, report.Duration.Seconds(), opts)
	e.runsTotal.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("status", string(report.Status())))...))
	e.keysScannedTotal.Add(ctx, int64(len(report.CustomerKeys)), opts)
	e.pendingTotal.Add(ctx, int64(len(report.Pending)), opts)

	if n := len(report.ScanFailures); n > 0 {
		e.resourceErrorsTotal.Add(ctx, int64(n), metric.WithAttributes(append(attrs, attribute.String("stage", "start_scan"))...))
	}
	if n := len(report.FetchFailures); n > 0 {
		e.resourceErrorsTotal.Add(ctx, int64(n), metric.WithAttributes(append(attrs, attribute.String("stage", "get_resource"))...))
	}

	// A failed run says nothing about which keys are public.
	if report.Status() == finding.RunFailed {
		log.Warn().Str("account", report.Account).Msg("run failed, keeping previous public key state")
		return nil
	}

	current := e.diffTracker.Carry(report)
	e.emitDiffs(ctx, report, current)

	e.mu.Lock()
	e.findings = current
	e.mu.Unlock()

	e.diffTracker.Update(current)
	return nil
}

func (e *PrometheusEmitter) emitDiffs(ctx context.Context, report finding.Report, current []finding.Finding) {
	diffs := e.diffTracker.ComputeDiff(current)
	if diffs == nil {
		return
	}

	for _, diff := range diffs {
		e.findingChangesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("region", report.Region),
			attribute.String("change_type", string(diff.Type)),
		))

		logEvent := log.Info().
			Str("resource_arn", diff.Finding.ResourceARN).
			Str("change", string(diff.Type))

		if diff.Type == finding.DiffModified {
			for field, change := range diff.Changes {
				logEvent = logEvent.
					Str(field+".from", change.Previous).
					Str(field+".to", change.Current)
			}
		}

		logEvent.Msg("public key changed")
	}
}

// observeFindings is the callback for the public_key_info gauge.
func (e *PrometheusEmitter) observeFindings(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, f := range e.findings {
		o.Observe(1, metric.WithAttributes(
			attribute.String("resource_arn", f.ResourceARN),
			attribute.String("owner_account", f.ResourceOwnerAccount),
			attribute.String("status", f.Status),
		))
	}

	return nil
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}
