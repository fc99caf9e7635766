package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestDaemonMetrics_RecordRun(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	dm, err := newDaemonMetricsWithProvider(provider)
	require.NoError(t, err)

	report := publicReport()
	report.Pending = []string{"arn:key/b"}
	dm.RecordRun(context.Background(), report)

	metrics := collectMetrics(t, reader)

	runs, ok := metrics["kmscheck.daemon.runs"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, runs.DataPoints, 1)
	status, found := runs.DataPoints[0].Attributes.Value(attribute.Key("status"))
	require.True(t, found)
	assert.Equal(t, string(finding.RunPartial), status.AsString())

	public, ok := metrics["kmscheck.keys.public"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, public.DataPoints, 1)
	assert.Equal(t, int64(1), public.DataPoints[0].Value)

	pending, ok := metrics["kmscheck.keys.pending"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), pending.DataPoints[0].Value)

	assert.Contains(t, metrics, "kmscheck.daemon.run.duration")
}

func TestDaemonMetrics_StorageOperation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	dm, err := newDaemonMetricsWithProvider(provider)
	require.NoError(t, err)

	dm.RecordStorageOperation(context.Background(), "record", "success")
	dm.RecordStorageOperation(context.Background(), "record", "error")
	dm.RecordEmitError(context.Background())

	metrics := collectMetrics(t, reader)

	ops, ok := metrics["kmscheck.storage.operations"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, ops.DataPoints, 2)

	emits, ok := metrics["kmscheck.daemon.emit.errors"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), emits.DataPoints[0].Value)
}
