package convert

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// PoolStats contains counters for a pool run.
type PoolStats struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// pool runs per-element conversion tasks over a fixed index range with a
// bounded number of goroutine workers. Tasks write results by index, so
// output order matches input order regardless of scheduling.
type pool struct {
	workers int

	completed int64
	failed    int64
}

func newPool(workers int) *pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &pool{workers: workers}
}

// run invokes fn for every index in [0, n). The first error cancels the
// remaining work. A panicking task is converted into an error instead of
// taking down the process.
func (p *pool) run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	indexes := make(chan int)
	errCh := make(chan error, 1)

	var wg sync.WaitGroup
	workers := p.workers
	if workers > n {
		workers = n
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if err := p.runTask(ctx, i, fn); err != nil {
					atomic.AddInt64(&p.failed, 1)
					select {
					case errCh <- err:
						cancel()
					default:
					}
					return
				}
				atomic.AddInt64(&p.completed, 1)
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
	}
	return ctx.Err()
}

// runTask executes one task with panic recovery.
func (p *pool) runTask(ctx context.Context, i int, fn func(ctx context.Context, i int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in conversion of element %d: %v", i, r)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return fn(ctx, i)
}

// stats returns the counters accumulated so far.
func (p *pool) stats() PoolStats {
	return PoolStats{
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}
