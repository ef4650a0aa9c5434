package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initStepMetrics initializes per-step metrics.
func (m *Manager) initStepMetrics(cfg Config) {
	m.stepExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "step_executions_total",
			Help: "Total number of step executions by status",
		},
		[]string{"status"},
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: cfg.StepDurationBuckets,
		},
		[]string{"status"},
	)

	m.stageSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stage_steps",
			Help:    "Number of steps per stage by subset",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		},
		[]string{"subset"},
	)

	m.registry.MustRegister(m.stepExecutions)
	m.registry.MustRegister(m.stepDuration)
	m.registry.MustRegister(m.stageSize)
}

// RecordStepExecution records one finished step.
func (m *Manager) RecordStepExecution(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.stepExecutions.WithLabelValues(status).Inc()
	m.stepDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStageSize records the parallel and serial subset sizes of a stage.
func (m *Manager) RecordStageSize(parallel, serial int) {
	if !m.enabled {
		return
	}
	m.stageSize.WithLabelValues("parallel").Observe(float64(parallel))
	m.stageSize.WithLabelValues("serial").Observe(float64(serial))
}
