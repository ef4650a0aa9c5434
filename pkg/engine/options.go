package engine

import (
	"context"
	"time"

	"github.com/ideaforge/ideaforge/pkg/logger"
	"github.com/ideaforge/ideaforge/pkg/prompt"
)

// DefaultSerialDelay separates consecutive serial provider calls.
const DefaultSerialDelay = 2 * time.Second

type settings struct {
	renderer    prompt.Renderer
	serialDelay time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      logger.Logger
	metrics     MetricsRecorder
	events      EventBroadcaster
}

func defaultSettings() settings {
	return settings{
		renderer:    prompt.NewRenderer(),
		serialDelay: DefaultSerialDelay,
		sleep:       sleepContext,
		logger:      logger.Global(),
		metrics:     nopMetricsRecorder{},
		events:      nopEventBroadcaster{},
	}
}

// Option configures an Orchestrator or Executor.
type Option func(*settings)

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(s *settings) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithEventBroadcaster sets a broadcaster for run and step state changes.
func WithEventBroadcaster(broadcaster EventBroadcaster) Option {
	return func(s *settings) {
		if broadcaster != nil {
			s.events = broadcaster
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRenderer replaces the prompt renderer.
func WithRenderer(r prompt.Renderer) Option {
	return func(s *settings) {
		if r != nil {
			s.renderer = r
		}
	}
}

// WithSerialDelay sets the pause between consecutive serial steps.
// Negative values are treated as zero.
func WithSerialDelay(d time.Duration) Option {
	return func(s *settings) {
		if d < 0 {
			d = 0
		}
		s.serialDelay = d
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
