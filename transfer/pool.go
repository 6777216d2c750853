package transfer

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 5

// ForEach calls fn for every item using at most workers goroutines.
// An error from one item never stops the others; all errors are combined and returned
// once every started call has finished. Items not yet started when ctx is cancelled are skipped.
func ForEach[T any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, i int, item T) error) error {
	if workers < 1 {
		workers = 1
	}

	errs := make([]error, len(items))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			break
		}
		g.Go(func() error {
			errs[i] = fn(ctx, i, item)
			return nil
		})
	}
	_ = g.Wait()

	return multierr.Combine(errs...)
}

// Accumulator is an append-only collection shared by pool tasks.
// Tasks only append their own results; nobody reads until the pool has joined.
type Accumulator[T any] struct {
	mu    sync.Mutex
	items []T
}

func (a *Accumulator[T]) Add(items ...T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, items...)
}

// Items returns a copy of everything appended so far.
func (a *Accumulator[T]) Items() []T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]T(nil), a.items...)
}

func (a *Accumulator[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}
