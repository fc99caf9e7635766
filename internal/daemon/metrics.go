package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// DaemonMetrics holds operational metrics using OTEL semantic conventions
type DaemonMetrics struct {
	runs              metric.Int64Counter
	runDuration       metric.Float64Histogram
	publicKeys        metric.Int64Gauge
	pendingKeys       metric.Int64Gauge
	emitErrors        metric.Int64Counter
	storageOperations metric.Int64Counter
}

// NewDaemonMetrics creates daemon metrics on the global meter provider.
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetricsWithProvider(otel.GetMeterProvider())
}

func newDaemonMetricsWithProvider(provider metric.MeterProvider) (*DaemonMetrics, error) {
	meter := provider.Meter("kmscheck.daemon")

	runs, err := meter.Int64Counter(
		"kmscheck.daemon.runs",
		metric.WithDescription("Number of check runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"kmscheck.daemon.run.duration",
		metric.WithDescription("Duration of check runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	publicKeys, err := meter.Int64Gauge(
		"kmscheck.keys.public",
		metric.WithDescription("Number of KMS customer keys reported public by the last run"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, err
	}

	pendingKeys, err := meter.Int64Gauge(
		"kmscheck.keys.pending",
		metric.WithDescription("Number of keys not analyzed within the poll budget in the last run"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, err
	}

	emitErrors, err := meter.Int64Counter(
		"kmscheck.daemon.emit.errors",
		metric.WithDescription("Number of failed notifications"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	storageOperations, err := meter.Int64Counter(
		"kmscheck.storage.operations",
		metric.WithDescription("Number of history storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		runs:              runs,
		runDuration:       runDuration,
		publicKeys:        publicKeys,
		pendingKeys:       pendingKeys,
		emitErrors:        emitErrors,
		storageOperations: storageOperations,
	}, nil
}

// RecordRun records a check run with its status.
func (m *DaemonMetrics) RecordRun(ctx context.Context, report finding.Report) {
	status := string(report.Status())
	region := attribute.String("cloud.region", report.Region)

	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("cloud.provider", "aws"),
		region,
	))
	m.runDuration.Record(ctx, report.Duration.Seconds(), metric.WithAttributes(
		attribute.String("status", status),
	))
	m.publicKeys.Record(ctx, int64(len(report.Findings)), metric.WithAttributes(region))
	m.pendingKeys.Record(ctx, int64(len(report.Pending)), metric.WithAttributes(region))
}

// RecordEmitError records a failed notification.
func (m *DaemonMetrics) RecordEmitError(ctx context.Context) {
	m.emitErrors.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation
func (m *DaemonMetrics) RecordStorageOperation(ctx context.Context, operation string, status string) {
	m.storageOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}
