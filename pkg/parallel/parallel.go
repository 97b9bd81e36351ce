// Package parallel is the differ's fan-out helper: run independent I/O
// tasks concurrently under a bound, collect results in input order.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map applies f to every element of items with at most limit calls in
// flight, returning results in input order. limit <= 0 means unbounded.
// The first error cancels the remaining calls and is returned.
func Map[T, R any](ctx context.Context, limit int, items []T, f func(context.Context, T) (R, error)) ([]R, error) {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	out := make([]R, len(items))
	for i, item := range items {
		g.Go(func() error {
			r, err := f(ctx, item)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Pair runs two calls concurrently and returns both results. It is the
// symmetric fan-out the differ uses for (left segment, right segment).
func Pair[R any](ctx context.Context, f, g func(context.Context) (R, error)) (R, R, error) {
	res, err := Map(ctx, 0, []func(context.Context) (R, error){f, g},
		func(ctx context.Context, fn func(context.Context) (R, error)) (R, error) {
			return fn(ctx)
		})
	if err != nil {
		var zero R
		return zero, zero, err
	}
	return res[0], res[1], nil
}
