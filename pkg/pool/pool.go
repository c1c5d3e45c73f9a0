// Package pool runs a list of independent operations with bounded
// concurrency. At most min(limit, len(items)) operations are in flight at
// any instant, results come back in input order regardless of completion
// timing, and failures are collected until every operation has settled
// rather than short-circuiting the run.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/wehubfusion/Talos/pkg/errors"
)

// Operation processes a single item. It receives the item together with
// the item's zero-based position in the input list. Implementations are
// free to block; the pool never aborts an operation once it has started.
type Operation[T, R any] func(ctx context.Context, item T, index int) (R, error)

// Run executes op over every element of items with at most limit
// operations in flight at once. The limit is clamped to len(items), so a
// limit larger than the input never over-admits.
//
// On success the returned slice has exactly one result per item, in input
// order. If any operation fails (returns an error or panics), Run still
// waits for every remaining operation to settle and then returns a
// *errors.AggregateError describing every failure with its originating
// index; partial results are never returned. A limit <= 0 or a nil op is
// rejected with an invalid-argument error before anything executes.
//
// Run never cancels admitted work: ctx is passed through to op, but the
// pool's own bookkeeping does not watch it.
func Run[T, R any](ctx context.Context, items []T, limit int, op Operation[T, R], opts ...Option) ([]R, error) {
	if op == nil {
		return nil, apperrors.NewInvalidArgument("operation cannot be nil")
	}
	if limit <= 0 {
		return nil, apperrors.NewInvalidArgument(fmt.Sprintf("limit must be greater than 0, got %d", limit))
	}

	if len(items) == 0 {
		return []R{}, nil
	}

	effectiveLimit := limit
	if effectiveLimit > len(items) {
		effectiveLimit = len(items)
	}

	options := newOptions(opts)
	runID := uuid.NewString()

	if options.tracer != nil {
		var span trace.Span
		ctx, span = startRunSpan(ctx, options.tracer, runID, len(items), effectiveLimit)
		defer span.End()
	}

	options.logger.Debug("starting run",
		zap.String("runID", runID),
		zap.Int("items", len(items)),
		zap.Int("limit", limit),
		zap.Int("effectiveLimit", effectiveLimit))

	run := &runState[T, R]{
		items:          items,
		op:             op,
		effectiveLimit: effectiveLimit,
		results:        make([]R, len(items)),
		done:           make(chan struct{}),
		options:        options,
		runID:          runID,
	}

	// Initial drain: admits up to effectiveLimit items. Every later
	// admission happens one slot at a time from completion handling.
	run.mu.Lock()
	run.admit(ctx)
	run.mu.Unlock()

	<-run.done

	if len(run.failures) > 0 {
		agg := apperrors.NewAggregateError(len(items), run.failures)
		options.logger.Debug("run failed",
			zap.String("runID", runID),
			zap.Int("failed", len(run.failures)),
			zap.Int("items", len(items)))
		recordRunError(ctx, agg)
		return nil, agg
	}

	options.logger.Debug("run completed",
		zap.String("runID", runID),
		zap.Int("items", len(items)))
	return run.results, nil
}

// runState is the bookkeeping for one invocation of Run. It is created at
// call start and discarded once the outcome is delivered. All fields are
// guarded by mu; operations execute outside the lock, bookkeeping inside.
type runState[T, R any] struct {
	mu sync.Mutex

	items          []T
	op             Operation[T, R]
	effectiveLimit int

	// next is the admission cursor, monotonically increasing to len(items).
	next      int
	inFlight  int
	completed int

	// results[i] is write-once, populated only on success of item i.
	results []R
	// failures is append-only, ordered by completion time.
	failures []apperrors.ItemError

	done    chan struct{}
	options *options
	runID   string
}

// admit claims and launches items while a slot is free and work remains.
// This loop is the only place new operations start. Callers must hold mu.
func (s *runState[T, R]) admit(ctx context.Context) {
	for s.inFlight < s.effectiveLimit && s.next < len(s.items) {
		index := s.next
		s.next++
		s.inFlight++
		s.options.metrics.recordStart(int64(s.inFlight))
		go s.execute(ctx, index)
	}
}

// execute runs one claimed item and feeds its outcome into completion
// handling. Success and failure take the identical path apart from which
// collection records the outcome.
func (s *runState[T, R]) execute(ctx context.Context, index int) {
	value, err := s.invoke(ctx, index)

	if err != nil {
		s.options.logger.Debug("operation failed",
			zap.String("runID", s.runID),
			zap.Int("index", index),
			zap.Error(err))
	}

	s.mu.Lock()
	if err != nil {
		s.failures = append(s.failures, apperrors.ItemError{Index: index, Err: err})
		s.options.metrics.recordFailure()
	} else {
		s.results[index] = value
		s.options.metrics.recordSuccess()
	}
	s.inFlight--
	s.completed++
	if s.completed == len(s.items) {
		close(s.done)
	} else {
		// Exactly one slot freed, so this drains at most one item.
		s.admit(ctx)
	}
	s.mu.Unlock()
}

// invoke runs the operation for one item inside its own span, if tracing
// is enabled.
func (s *runState[T, R]) invoke(ctx context.Context, index int) (R, error) {
	if s.options.tracer == nil {
		return s.call(ctx, index)
	}

	ctx, span := startItemSpan(ctx, s.options.tracer, s.runID, index)
	defer span.End()

	value, err := s.call(ctx, index)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "operation completed")
	}
	return value, err
}

// call invokes the operation, converting a panic into an ordinary error
// so a synchronous fault is recorded with the same shape as a returned one.
func (s *runState[T, R]) call(ctx context.Context, index int) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()

	return s.op(ctx, s.items[index], index)
}
