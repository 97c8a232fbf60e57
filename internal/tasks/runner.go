// Package tasks runs independent items through a worker with a fixed concurrency limit.
package tasks

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrWorkerPanic is recorded for an item whose worker panicked.
var ErrWorkerPanic = errors.New("worker panicked")

// Result is the outcome of one item. Exactly one of Data or Err is meaningful.
type Result[R any] struct {
	Data R
	Err  error
}

// OK reports whether the item succeeded.
func (r Result[R]) OK() bool { return r.Err == nil }

// Worker processes one item.
type Worker[I, R any] func(ctx context.Context, item I) Result[R]

// Option configures a run.
type Option func(*runOptions)

type runOptions struct {
	batch      *Batch
	onProgress func(Progress)
}

// WithBatch records progress into b instead of a private batch.
func WithBatch(b *Batch) Option {
	return func(o *runOptions) { o.batch = b }
}

// WithProgress calls fn with a snapshot after every item completes.
// fn is called serially and must not block for long.
func WithProgress(fn func(Progress)) Option {
	return func(o *runOptions) { o.onProgress = fn }
}

// RunBounded runs worker over items with at most limit workers in flight. Items start in input
// order and result i always belongs to items[i]. A failing or panicking worker affects only its
// own result. Once ctx is done, items not yet started are failed with ctx.Err().
func RunBounded[I, R any](ctx context.Context, items []I, limit int, worker Worker[I, R], opts ...Option) []Result[R] {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.batch == nil {
		o.batch = NewBatch(len(items))
	}
	if limit < 1 {
		limit = 1
	}
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i := range items {
		if err := ctx.Err(); err != nil {
			results[i] = Result[R]{Err: err}
			o.batch.record(i, err, o.onProgress)
			continue
		}
		g.Go(func() error {
			res := runOne(ctx, items[i], worker)
			results[i] = res
			o.batch.record(i, res.Err, o.onProgress)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runOne[I, R any](ctx context.Context, item I, worker Worker[I, R]) (res Result[R]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[R]{Err: fmt.Errorf("%w: %v", ErrWorkerPanic, r)}
		}
	}()
	return worker(ctx, item)
}

// Data returns the data of the successful results, in input order.
func Data[R any](results []Result[R]) []R {
	out := make([]R, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Data)
		}
	}
	return out
}
