package analysis

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Options tunes the batch components
type Options struct {
	// Workers bounds concurrent valuations; <= 0 uses GOMAXPROCS
	Workers int
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// forEach runs fn for every index in [0, n) on a bounded pool. Each fn writes
// only its own slot of a pre-allocated result slice. Cancelling ctx stops
// new work from being scheduled; ctx.Err() is returned in that case.
func forEach(ctx context.Context, n, workers int, fn func(i int)) error {
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}
