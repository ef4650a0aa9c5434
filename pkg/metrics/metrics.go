// Package metrics exposes run, step, provider and HTTP instrumentation as
// Prometheus collectors on a private registry.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ideaforge/ideaforge/pkg/version"
)

// Manager owns the registry and every collector. The zero value and a
// manager built from a disabled Config record nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	runExecutions *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runsActive    prometheus.Gauge

	stepExecutions *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stageSize      *prometheus.HistogramVec

	providerAttempts *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerRetries  *prometheus.CounterVec

	documentsProduced *prometheus.CounterVec

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge
}

// Config holds metrics configuration. Durations are observed in seconds.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	RunDurationBuckets      []float64
	StepDurationBuckets     []float64
	ProviderDurationBuckets []float64
	HTTPDurationBuckets     []float64
}

// DefaultConfig returns buckets sized for LLM latencies: provider calls take
// seconds and whole runs take minutes.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		Port:                    9091,
		Path:                    "/metrics",
		RunDurationBuckets:      []float64{1, 5, 10, 30, 60, 120, 300, 600},
		StepDurationBuckets:     []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		ProviderDurationBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		HTTPDurationBuckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a manager. A disabled config yields a manager whose
// Record methods are no-ops and whose Handler answers 404.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{}
	}

	m := &Manager{registry: prometheus.NewRegistry(), enabled: true}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newBuildInfo(),
	)

	m.initRunMetrics(cfg)
	m.initStepMetrics(cfg)
	m.initProviderMetrics(cfg)
	m.initHTTPMetrics(cfg)
	return m
}

// newBuildInfo is a constant 1 gauge labelled with the binary's version.
func newBuildInfo() prometheus.Collector {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ideaforge_build_info",
		Help: "Build information of the running IdeaForge binary",
		ConstLabels: prometheus.Labels{
			"version":    version.Version,
			"commit":     version.GitCommit,
			"go_version": version.GoVersion,
		},
	})
	g.Set(1)
	return g
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Handler serves the registry in the Prometheus or OpenMetrics format.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.NotFoundHandler()
	}
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
		Registry:          m.registry,
	})
	return promhttp.InstrumentMetricHandler(m.registry, h)
}

// StartServer serves Handler on port at path until ctx is done. A port that
// cannot be bound is reported immediately; a clean shutdown returns nil.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("metrics listen on port %d: %w", port, err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
