package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initRunMetrics initializes workflow run metrics.
func (m *Manager) initRunMetrics(cfg Config) {
	m.runExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "run_executions_total",
			Help: "Total number of finished workflow runs by status",
		},
		[]string{"status"},
	)

	m.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: cfg.RunDurationBuckets,
		},
		[]string{"status"},
	)

	m.runsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runs_active",
			Help: "Current number of executing workflow runs",
		},
	)

	m.documentsProduced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "documents_produced_total",
			Help: "Total number of documents produced by category",
		},
		[]string{"category"},
	)

	m.registry.MustRegister(m.runExecutions)
	m.registry.MustRegister(m.runDuration)
	m.registry.MustRegister(m.runsActive)
	m.registry.MustRegister(m.documentsProduced)
}

// RecordRunStarted marks a run as active.
func (m *Manager) RecordRunStarted() {
	if !m.enabled {
		return
	}
	m.runsActive.Inc()
}

// RecordRunFinished records a finished run and releases its active slot.
func (m *Manager) RecordRunFinished(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.runsActive.Dec()
	m.runExecutions.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordDocument records one produced document.
func (m *Manager) RecordDocument(category string) {
	if !m.enabled {
		return
	}
	m.documentsProduced.WithLabelValues(category).Inc()
}
