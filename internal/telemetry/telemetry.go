// Package telemetry provides OpenTelemetry instrumentation for the KMS check.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/config"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	checkDuration metric.Float64Histogram
	findingsCount metric.Int64Counter
	checkErrors   metric.Int64Counter
}

// NewProvider creates a new telemetry provider and installs it globally.
// Extra readers, such as a Prometheus exporter, are attached to the meter
// provider alongside the OTLP exporter.
func NewProvider(ctx context.Context, cfg config.OTELConfig, readers ...sdkmetric.Reader) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res, readers); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer("kmscheck")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource, readers []sdkmetric.Reader) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("kmscheck")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.checkDuration, err = p.meter.Float64Histogram(
		"kmscheck_check_duration_seconds",
		metric.WithDescription("Duration of a full check run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create check_duration: %w", err)
	}

	p.findingsCount, err = p.meter.Int64Counter(
		"kmscheck_findings_total",
		metric.WithDescription("Total public KMS customer keys reported"),
	)
	if err != nil {
		return fmt.Errorf("create findings_count: %w", err)
	}

	p.checkErrors, err = p.meter.Int64Counter(
		"kmscheck_check_errors_total",
		metric.WithDescription("Total check errors by stage"),
	)
	if err != nil {
		return fmt.Errorf("create check_errors: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// RecordRun records the duration, findings and per-stage errors of a run.
func (p *Provider) RecordRun(ctx context.Context, report finding.Report) {
	attrs := []attribute.KeyValue{
		attribute.String("cloud.account.id", report.Account),
		attribute.String("cloud.region", report.Region),
	}

	p.checkDuration.Record(ctx, report.Duration.Seconds(), metric.WithAttributes(
		append(attrs, attribute.String("status", string(report.Status())))...,
	))
	p.findingsCount.Add(ctx, int64(len(report.Findings)), metric.WithAttributes(attrs...))

	for stage, n := range stageErrors(report) {
		if n > 0 {
			p.RecordError(ctx, stage, n)
		}
	}
}

// RecordError records n errors at a check stage.
func (p *Provider) RecordError(ctx context.Context, stage string, n int) {
	p.checkErrors.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("stage", stage),
	))
}

func stageErrors(report finding.Report) map[string]int {
	errs := map[string]int{
		"resolve_analyzer": 0,
		"list_keys":        0,
		"start_scan":       len(report.ScanFailures),
		"poll":             len(report.PollErrors),
		"get_resource":     len(report.FetchFailures),
	}
	if report.AnalyzerErr != nil {
		errs["resolve_analyzer"] = 1
	}
	if report.KeysErr != nil {
		errs["list_keys"] = 1
	}
	return errs
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
