package pool

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startRunSpan opens the span covering a whole run.
func startRunSpan(ctx context.Context, tracer trace.Tracer, runID string, items, effectiveLimit int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pool.Run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.items", items),
			attribute.Int("run.effective_limit", effectiveLimit),
		))
}

// startItemSpan opens the span covering a single operation invocation.
func startItemSpan(ctx context.Context, tracer trace.Tracer, runID string, index int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pool.operation",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("item.index", index),
		))
}

// recordRunError marks the run span, if any, as failed. With no tracer
// configured the context carries a no-op span and this does nothing.
func recordRunError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
