package syncengine

import (
	"time"

	"github.com/c0deZ3R0/go-sync-engine/logging"
)

// serviceOptions holds construction-time options for a Service.
type serviceOptions struct {
	clock             Clock
	ids               IDGenerator
	retry             RetryPolicy
	batchSize         int
	autoDrainInterval time.Duration
	metrics           MetricsCollector
	logger            *logging.Logger
}

// Option configures a Service at construction time.
type Option interface{ apply(*serviceOptions) }

type optionFn func(*serviceOptions)

func (f optionFn) apply(o *serviceOptions) { f(o) }

// WithClock injects a clock, primarily for deterministic tests.
func WithClock(c Clock) Option {
	return optionFn(func(o *serviceOptions) { o.clock = c })
}

// WithIDGenerator injects the generator used for operation and conflict IDs.
func WithIDGenerator(g IDGenerator) Option {
	return optionFn(func(o *serviceOptions) { o.ids = g })
}

// WithRetryPolicy sets the bounded retry policy for transient commit races.
func WithRetryPolicy(p RetryPolicy) Option {
	return optionFn(func(o *serviceOptions) { o.retry = p })
}

// WithBatchSize limits how many operations one drain pulls per user.
func WithBatchSize(n int) Option {
	return optionFn(func(o *serviceOptions) { o.batchSize = n })
}

// WithAutoDrainInterval enables the background drain ticker (0 disables).
func WithAutoDrainInterval(d time.Duration) Option {
	return optionFn(func(o *serviceOptions) { o.autoDrainInterval = d })
}

// WithMetrics injects a metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return optionFn(func(o *serviceOptions) { o.metrics = m })
}

// WithLogger injects a logger.
func WithLogger(l *logging.Logger) Option {
	return optionFn(func(o *serviceOptions) { o.logger = l })
}
