package worker

import (
	"context"
	"fmt"
)

// FuncJob runs one indexed call of a Map function.
type FuncJob[T any] struct {
	Index int
	Fn    func(ctx context.Context, i int) (T, error)
}

// Execute executes the call
func (j *FuncJob[T]) Execute(ctx context.Context) Result {
	v, err := j.Fn(ctx, j.Index)
	return &FuncResult[T]{Index: j.Index, Value: v, Error: err}
}

// FuncResult carries the value of one FuncJob.
type FuncResult[T any] struct {
	Index int
	Value T
	Error error
}

// GetError returns the error from the call
func (r *FuncResult[T]) GetError() error {
	return r.Error
}

// Map calls fn for every index in [0, n) on a pool of workers and returns
// the values in index order. The first error by index wins.
func Map[T any](ctx context.Context, workers, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	out := make([]T, n)
	if n == 0 {
		return out, nil
	}

	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v, err := fn(ctx, i)
			if err != nil {
				return nil, fmt.Errorf("job %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}

	pool := NewPoolContext(ctx, workers)
	pool.Start()
	for i := 0; i < n; i++ {
		pool.Submit(&FuncJob[T]{Index: i, Fn: fn})
	}
	results := pool.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(results) != n {
		return nil, fmt.Errorf("worker pool returned %d of %d results", len(results), n)
	}
	for i, r := range results {
		fr := r.(*FuncResult[T])
		if fr.Error != nil {
			return nil, fmt.Errorf("job %d: %w", fr.Index, fr.Error)
		}
		out[i] = fr.Value
	}
	return out, nil
}
