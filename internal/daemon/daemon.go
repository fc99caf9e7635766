// Package daemon runs the KMS public access check on an interval and
// serves metrics and health endpoints.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/emitter"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/plugin"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// Recorder persists run outcomes.
type Recorder interface {
	Record(report finding.Report) (int64, error)
}

// Config holds daemon configuration
type Config struct {
	Interval    time.Duration
	MetricsAddr string
	OneShot     bool
}

// Daemon runs the check loop.
type Daemon struct {
	interval    time.Duration
	metricsAddr string
	oneShot     bool

	plugin   plugin.Plugin
	emitter  emitter.Emitter
	recorder Recorder
	metrics  *DaemonMetrics

	startTime time.Time
	runCount  atomic.Int64
	ready     atomic.Bool

	mu         sync.RWMutex
	lastReport *finding.Report
	listenAddr net.Addr
}

// NewDaemon creates a new daemon instance. recorder may be nil.
func NewDaemon(cfg Config, p plugin.Plugin, e emitter.Emitter, recorder Recorder) (*Daemon, error) {
	if p == nil {
		return nil, errors.New("daemon: plugin is required")
	}
	if e == nil {
		return nil, errors.New("daemon: emitter is required")
	}
	if cfg.Interval <= 0 && !cfg.OneShot {
		return nil, fmt.Errorf("daemon: interval must be positive (got %s)", cfg.Interval)
	}

	metrics, err := NewDaemonMetrics()
	if err != nil {
		return nil, fmt.Errorf("daemon metrics: %w", err)
	}

	return &Daemon{
		interval:    cfg.Interval,
		metricsAddr: cfg.MetricsAddr,
		oneShot:     cfg.OneShot,
		plugin:      p,
		emitter:     e,
		recorder:    recorder,
		metrics:     metrics,
		startTime:   time.Now(),
	}, nil
}

// Start runs the check loop and, when a metrics address is set, the
// HTTP server until ctx is cancelled or an actor fails.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group

	g.Add(func() error {
		return d.loop(ctx)
	}, func(error) {
		cancel()
	})

	if d.metricsAddr != "" {
		ln, err := net.Listen("tcp", d.metricsAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", d.metricsAddr, err)
		}
		d.mu.Lock()
		d.listenAddr = ln.Addr()
		d.mu.Unlock()

		srv := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Add(func() error {
			log.Info().Str("addr", ln.Addr().String()).Msg("starting metrics server")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	return g.Run()
}

func (d *Daemon) loop(ctx context.Context) error {
	d.RunOnce(ctx)

	if d.oneShot {
		log.Info().Msg("one-shot mode, exiting")
		return nil
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce performs one check, records it and emits the result.
func (d *Daemon) RunOnce(ctx context.Context) finding.Report {
	d.runCount.Add(1)
	start := time.Now()

	report, err := d.plugin.Scan(ctx)
	if err != nil {
		log.Error().Err(err).Str("plugin", d.plugin.Name()).Msg("scan failed")
		report.AnalyzerErr = errors.Join(report.AnalyzerErr, err)
	}
	if report.Duration == 0 {
		report.Duration = time.Since(start)
	}

	d.metrics.RecordRun(ctx, report)

	if d.recorder != nil {
		if _, err := d.recorder.Record(report); err != nil {
			d.metrics.RecordStorageOperation(ctx, "record", "error")
			log.Error().Err(err).Msg("record history failed")
		} else {
			d.metrics.RecordStorageOperation(ctx, "record", "success")
		}
	}

	if err := d.emitter.Emit(ctx, report); err != nil {
		d.metrics.RecordEmitError(ctx)
		log.Error().Err(err).Msg("emit failed")
	}

	d.mu.Lock()
	d.lastReport = &report
	d.mu.Unlock()
	d.ready.Store(true)

	return report
}

// Handler returns the HTTP handler serving metrics and health checks.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/-/healthy", d.handleHealth)
	mux.HandleFunc("/-/ready", d.handleReady)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.Health())
}

func (d *Daemon) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !d.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("first check not complete"))
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	status := HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Runs:   d.runCount.Load(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastReport != nil {
		status.LastStatus = string(d.lastReport.Status())
		status.LastRun = d.lastReport.StartedAt
		status.PublicKeys = len(d.lastReport.Findings)
	}
	return status
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status     string    `json:"status"`
	Uptime     int64     `json:"uptime_seconds"`
	Runs       int64     `json:"runs"`
	LastStatus string    `json:"last_status,omitempty"`
	LastRun    time.Time `json:"last_run,omitzero"`
	PublicKeys int       `json:"public_keys"`
}

// RunCount returns total check runs.
func (d *Daemon) RunCount() int64 {
	return d.runCount.Load()
}

// MetricsPort returns the port the metrics server listens on, or 0.
func (d *Daemon) MetricsPort() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if tcp, ok := d.listenAddr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Close closes the emitter.
func (d *Daemon) Close() error {
	return d.emitter.Close()
}
