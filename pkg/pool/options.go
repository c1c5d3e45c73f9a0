package pool

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures a single Run invocation.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

func newOptions(opts []Option) *options {
	o := &options{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger enables structured logging for the run. A nil logger leaves
// the run silent.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer enables tracing: one span for the run plus one span per
// operation invocation.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithMetrics points the run at a Metrics collector. The same collector
// may be shared across runs; counters accumulate.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
