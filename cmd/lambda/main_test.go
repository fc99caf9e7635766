package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/config"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/emitter"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/plugin"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

type mockPlugin struct {
	report finding.Report
	err    error
}

func (m *mockPlugin) Name() string { return "mock" }

func (m *mockPlugin) Scan(ctx context.Context) (finding.Report, error) {
	return m.report, m.err
}

type mockEmitter struct {
	mu      sync.Mutex
	reports []finding.Report
	err     error
	closed  bool
}

func (m *mockEmitter) Emit(ctx context.Context, report finding.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return m.err
}

func (m *mockEmitter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func quietLogs(t *testing.T) {
	t.Helper()
	oldLogger, oldLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = oldLogger
		zerolog.SetGlobalLevel(oldLevel)
	})
	t.Setenv(config.EnvChannel, "none")
	t.Setenv(config.EnvLogLevel, "disabled")
}

func factoryFor(p plugin.Plugin, e emitter.Emitter, err error) checkFactory {
	return func(ctx context.Context, cfg *config.Config) (plugin.Plugin, emitter.Emitter, error) {
		if err != nil {
			return nil, nil, err
		}
		return p, e, nil
	}
}

func TestHandler_EmitsReport(t *testing.T) {
	quietLogs(t)
	report := finding.Report{
		AnalyzerARN: "arn:analyzer",
		Findings:    []finding.Finding{{ResourceARN: "arn:key/a", IsPublic: true, Status: finding.StatusActive}},
	}
	e := &mockEmitter{}

	err := newHandler(factoryFor(&mockPlugin{report: report}, e, nil))(context.Background(), events.CloudWatchEvent{})

	require.NoError(t, err)
	require.Len(t, e.reports, 1)
	assert.Equal(t, []string{"arn:key/a"}, finding.ARNs(e.reports[0].Findings))
	assert.True(t, e.closed)
}

func TestHandler_PartialFailuresDoNotFail(t *testing.T) {
	quietLogs(t)
	e := &mockEmitter{err: errors.New("publish failed")}
	p := &mockPlugin{err: errors.New("scan failed")}

	err := newHandler(factoryFor(p, e, nil))(context.Background(), events.CloudWatchEvent{})

	require.NoError(t, err)
	require.Len(t, e.reports, 1)
	assert.Equal(t, finding.RunFailed, e.reports[0].Status())
}

func TestHandler_ConstructionError(t *testing.T) {
	quietLogs(t)

	err := newHandler(factoryFor(nil, nil, errors.New("no credentials")))(context.Background(), events.CloudWatchEvent{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
}

func TestHandler_InvalidConfig(t *testing.T) {
	quietLogs(t)
	t.Setenv(config.EnvChannel, "pagerduty")
	called := false
	factory := func(ctx context.Context, cfg *config.Config) (plugin.Plugin, emitter.Emitter, error) {
		called = true
		return nil, nil, nil
	}

	err := newHandler(factory)(context.Background(), events.CloudWatchEvent{})

	require.Error(t, err)
	assert.False(t, called)
}
