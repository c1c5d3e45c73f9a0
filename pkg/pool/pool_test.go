package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wehubfusion/Talos/pkg/errors"
)

func TestRun_Success(t *testing.T) {
	results, err := Run(context.Background(), []int{1, 2, 3}, 2, func(ctx context.Context, item int, index int) (int, error) {
		return item * 2, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, results)
}

func TestRun_PreservesOrderWithVariableDurations(t *testing.T) {
	// slow, fast, medium with a limit covering all three: completion
	// order differs from input order, result order must not.
	durations := []time.Duration{50 * time.Millisecond, time.Millisecond, 20 * time.Millisecond}
	items := []string{"slow", "fast", "medium"}

	results, err := Run(context.Background(), items, 3, func(ctx context.Context, item string, index int) (string, error) {
		time.Sleep(durations[index])
		return item + "-result", nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"slow-result", "fast-result", "medium-result"}, results)
}

func TestRun_LimitedConcurrencyPreservesOrder(t *testing.T) {
	durations := []time.Duration{40 * time.Millisecond, time.Millisecond, 20 * time.Millisecond, time.Millisecond}
	items := []string{"slow", "fast", "medium", "fast"}

	results, err := Run(context.Background(), items, 2, func(ctx context.Context, item string, index int) (string, error) {
		time.Sleep(durations[index])
		return item, nil
	})

	require.NoError(t, err)
	assert.Equal(t, items, results)
}

func TestRun_ConcurrencyNeverExceedsLimit(t *testing.T) {
	const limit = 4
	var current, peak int64

	metrics := &Metrics{}
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	_, err := Run(context.Background(), items, limit, func(ctx context.Context, item int, index int) (int, error) {
		c := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if c <= p || atomic.CompareAndSwapInt64(&peak, p, c) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return item, nil
	}, WithMetrics(metrics))

	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(limit))
	assert.LessOrEqual(t, metrics.PeakInFlight(), int64(limit))
	assert.Equal(t, int64(len(items)), metrics.TotalStarted())
}

func TestRun_ClampsLimitToItemCount(t *testing.T) {
	metrics := &Metrics{}

	results, err := Run(context.Background(), []string{"only"}, 10, func(ctx context.Context, item string, index int) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return item, nil
	}, WithMetrics(metrics))

	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, results)
	assert.Equal(t, int64(1), metrics.PeakInFlight())
}

func TestRun_FailureAggregationCollectsEveryFailure(t *testing.T) {
	errSecond := errors.New("second failed")
	errFourth := errors.New("fourth failed")

	results, err := Run(context.Background(), []string{"fast", "error", "medium", "error"}, 2, func(ctx context.Context, item string, index int) (string, error) {
		switch index {
		case 1:
			return "", errSecond
		case 3:
			return "", errFourth
		default:
			time.Sleep(5 * time.Millisecond)
			return item, nil
		}
	})

	require.Error(t, err)
	assert.Nil(t, results, "a failing run must not return partial results")

	agg, ok := apperrors.AsAggregate(err)
	require.True(t, ok)
	assert.Equal(t, 4, agg.Total)
	require.Len(t, agg.Failures, 2)
	// Failure order follows completion, assert on the index set only.
	assert.ElementsMatch(t, []int{1, 3}, agg.Indexes())

	for _, f := range agg.Failures {
		switch f.Index {
		case 1:
			assert.Equal(t, errSecond, f.Err)
		case 3:
			assert.Equal(t, errFourth, f.Err)
		}
	}

	assert.ErrorIs(t, err, errSecond)
	assert.ErrorIs(t, err, errFourth)
}

func TestRun_FailuresRecordedInCompletionOrder(t *testing.T) {
	// Index 0 fails slowly, index 2 fails immediately. The aggregate list
	// intentionally keeps completion order rather than input order.
	slow := errors.New("slow failure")
	quick := errors.New("quick failure")

	_, err := Run(context.Background(), []int{0, 1, 2}, 3, func(ctx context.Context, item int, index int) (int, error) {
		switch index {
		case 0:
			time.Sleep(50 * time.Millisecond)
			return 0, slow
		case 2:
			return 0, quick
		default:
			return item, nil
		}
	})

	agg, ok := apperrors.AsAggregate(err)
	require.True(t, ok)
	require.Len(t, agg.Failures, 2)
	assert.Equal(t, 2, agg.Failures[0].Index)
	assert.Equal(t, 0, agg.Failures[1].Index)
}

func TestRun_InvalidLimitRejectedBeforeExecution(t *testing.T) {
	var invocations int64
	op := func(ctx context.Context, item int, index int) (int, error) {
		atomic.AddInt64(&invocations, 1)
		return item, nil
	}

	for _, limit := range []int{0, -1, -100} {
		results, err := Run(context.Background(), []int{1, 2, 3}, limit, op)
		require.Error(t, err, "limit %d", limit)
		assert.True(t, apperrors.IsInvalidArgument(err), "limit %d", limit)
		assert.Nil(t, results)
	}

	assert.Equal(t, int64(0), atomic.LoadInt64(&invocations), "no operation may run on the validation failure path")
}

func TestRun_NilOperationRejected(t *testing.T) {
	_, err := Run[int, int](context.Background(), []int{1}, 1, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))
}

func TestRun_EmptyItems(t *testing.T) {
	var invocations int64

	results, err := Run(context.Background(), []int{}, 3, func(ctx context.Context, item int, index int) (int, error) {
		atomic.AddInt64(&invocations, 1)
		return item, nil
	})

	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, int64(0), atomic.LoadInt64(&invocations))
}

func TestRun_PanicRecordedAsFailure(t *testing.T) {
	var invocations int64

	results, err := Run(context.Background(), []int{0, 1, 2}, 2, func(ctx context.Context, item int, index int) (int, error) {
		atomic.AddInt64(&invocations, 1)
		if index == 1 {
			panic("boom")
		}
		return item, nil
	})

	require.Error(t, err)
	assert.Nil(t, results)

	agg, ok := apperrors.AsAggregate(err)
	require.True(t, ok)
	require.Len(t, agg.Failures, 1)
	assert.Equal(t, 1, agg.Failures[0].Index)
	assert.Contains(t, agg.Failures[0].Err.Error(), "operation panicked")
	assert.Contains(t, agg.Failures[0].Err.Error(), "boom")

	// A panic settles its slot like any failure, the rest still ran.
	assert.Equal(t, int64(3), atomic.LoadInt64(&invocations))
}

func TestRun_NoEarlyAbortOnFailure(t *testing.T) {
	var invocations int64
	items := make([]int, 6)
	for i := range items {
		items[i] = i
	}

	_, err := Run(context.Background(), items, 2, func(ctx context.Context, item int, index int) (int, error) {
		atomic.AddInt64(&invocations, 1)
		if index == 0 {
			return 0, errors.New("first item failed")
		}
		time.Sleep(2 * time.Millisecond)
		return item, nil
	})

	require.Error(t, err)
	assert.Equal(t, int64(len(items)), atomic.LoadInt64(&invocations), "every item must run to completion despite the early failure")
}

func TestRun_AllSuccessWithStragglers(t *testing.T) {
	items := []int{0, 1, 2, 3}

	results, err := Run(context.Background(), items, 4, func(ctx context.Context, item int, index int) (int, error) {
		if index == len(items)-1 {
			time.Sleep(50 * time.Millisecond)
		}
		return item * 10, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 10, 20, 30}, results)
}

func TestRun_AdmitsInInputOrder(t *testing.T) {
	var order []int

	// Limit 1 serializes the run, so admission order is fully observable.
	_, err := Run(context.Background(), []int{10, 20, 30, 40}, 1, func(ctx context.Context, item int, index int) (int, error) {
		order = append(order, index)
		return item, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestRun_MetricsTotals(t *testing.T) {
	metrics := &Metrics{}

	_, err := Run(context.Background(), []int{0, 1, 2, 3, 4}, 2, func(ctx context.Context, item int, index int) (int, error) {
		if index%2 == 1 {
			return 0, errors.New("odd index failed")
		}
		return item, nil
	}, WithMetrics(metrics))

	require.Error(t, err)
	assert.Equal(t, int64(5), metrics.TotalStarted())
	assert.Equal(t, int64(3), metrics.TotalSucceeded())
	assert.Equal(t, int64(2), metrics.TotalFailed())
}
