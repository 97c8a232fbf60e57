package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBounded_NeverExceedsLimit(t *testing.T) {
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}
	var inFlight, peak int32
	results := RunBounded(context.Background(), items, 3, func(ctx context.Context, n int) Result[int] {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return Result[int]{Data: n * n}
	})
	require.Len(t, results, 20)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	for i, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, i*i, r.Data)
	}
}

func TestRunBounded_OrderingAndFaultIsolation(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	boom := errors.New("boom")
	results := RunBounded(context.Background(), items, 2, func(ctx context.Context, s string) Result[string] {
		if s == "c" {
			return Result[string]{Err: boom}
		}
		// Finish out of order.
		if s == "a" {
			time.Sleep(20 * time.Millisecond)
		}
		return Result[string]{Data: s + s}
	})
	require.Len(t, results, 4)
	assert.Equal(t, "aa", results[0].Data)
	assert.Equal(t, "bb", results[1].Data)
	assert.ErrorIs(t, results[2].Err, boom)
	assert.Equal(t, "dd", results[3].Data)
	assert.Equal(t, []string{"aa", "bb", "dd"}, Data(results))
}

func TestRunBounded_StartsInInputOrder(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}
	var mu sync.Mutex
	var started []int
	RunBounded(context.Background(), items, 1, func(ctx context.Context, n int) Result[struct{}] {
		mu.Lock()
		started = append(started, n)
		mu.Unlock()
		return Result[struct{}]{}
	})
	assert.Equal(t, items, started)
}

func TestRunBounded_PanicIsIsolated(t *testing.T) {
	results := RunBounded(context.Background(), []int{1, 2, 3}, 3, func(ctx context.Context, n int) Result[int] {
		if n == 2 {
			panic("bad item")
		}
		return Result[int]{Data: n}
	})
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrWorkerPanic)
	assert.NoError(t, results[2].Err)
}

func TestRunBounded_CancelledContextSkipsUnstarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	results := RunBounded(ctx, []int{1, 2, 3, 4}, 1, func(ctx context.Context, n int) Result[int] {
		atomic.AddInt32(&calls, 1)
		if n == 1 {
			cancel()
		}
		return Result[int]{Data: n}
	})
	assert.NoError(t, results[0].Err)
	for _, r := range results[2:] {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestRunBounded_ProgressAndSummary(t *testing.T) {
	batch := NewBatch(5)
	var snapshots []Progress
	RunBounded(context.Background(), []int{1, 2, 3, 4, 5}, 2, func(ctx context.Context, n int) Result[int] {
		if n%2 == 0 {
			return Result[int]{Err: errors.New("even")}
		}
		return Result[int]{Data: n}
	}, WithBatch(batch), WithProgress(func(p Progress) {
		snapshots = append(snapshots, p)
	}))

	require.Len(t, snapshots, 5)
	for i, p := range snapshots {
		assert.Equal(t, i+1, p.Completed)
		assert.Equal(t, p.Completed, p.Succeeded+p.Failed)
	}
	assert.True(t, batch.Progress().Done())
	assert.Equal(t, Summary{SuccessCount: 3, FailCount: 2, Total: 5}, batch.Summary())
	assert.Len(t, batch.Failed(), 2)
}

func TestRunBounded_Empty(t *testing.T) {
	results := RunBounded(context.Background(), []int(nil), 5, func(ctx context.Context, n int) Result[int] {
		t.Fatal("worker must not run")
		return Result[int]{}
	})
	assert.Empty(t, results)
}

func TestRunBounded_ZeroLimitRunsSerially(t *testing.T) {
	results := RunBounded(context.Background(), []int{1, 2}, 0, func(ctx context.Context, n int) Result[int] {
		return Result[int]{Data: n}
	})
	assert.Equal(t, []int{1, 2}, Data(results))
}
