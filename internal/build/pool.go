package build

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many container runs happen at once.
type Pool struct {
	sem *semaphore.Weighted
}

func NewPool(workers int) *Pool {
	return &Pool{sem: semaphore.NewWeighted(int64(max(workers, 1)))}
}

// Submit runs f once a worker is free.
// The returned channel receives f's error, or ctx's error if no worker
// became free before ctx was done.
func (p *Pool) Submit(ctx context.Context, f func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			done <- err
			return
		}
		defer p.sem.Release(1)
		done <- f(ctx)
	}()
	return done
}
