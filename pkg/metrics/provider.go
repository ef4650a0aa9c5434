package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initProviderMetrics initializes text generation provider metrics.
func (m *Manager) initProviderMetrics(cfg Config) {
	m.providerAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_attempts_total",
			Help: "Total number of provider HTTP attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_attempt_duration_seconds",
			Help:    "Provider attempt latency in seconds",
			Buckets: cfg.ProviderDurationBuckets,
		},
		[]string{"outcome"},
	)

	m.providerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_retries_total",
			Help: "Total number of provider retries by reason",
		},
		[]string{"reason"},
	)

	m.registry.MustRegister(m.providerAttempts)
	m.registry.MustRegister(m.providerDuration)
	m.registry.MustRegister(m.providerRetries)
}

// RecordProviderAttempt records one provider call.
func (m *Manager) RecordProviderAttempt(outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.providerAttempts.WithLabelValues(outcome).Inc()
	m.providerDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordProviderRetry records a backoff before another attempt.
func (m *Manager) RecordProviderRetry(reason string) {
	if !m.enabled {
		return
	}
	m.providerRetries.WithLabelValues(reason).Inc()
}
