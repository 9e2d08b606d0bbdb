package convert

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := newPool(4)
	var count int64

	results := make([]int, 100)
	err := p.run(context.Background(), 100, func(ctx context.Context, i int) error {
		atomic.AddInt64(&count, 1)
		results[i] = i * 2
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if count != 100 {
		t.Errorf("expected 100 tasks, ran %d", count)
	}
	for i, v := range results {
		if v != i*2 {
			t.Errorf("result %d: got %d, want %d", i, v, i*2)
		}
	}
	if s := p.stats(); s.Completed != 100 || s.Failed != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestPoolStopsOnFirstError(t *testing.T) {
	p := newPool(2)
	boom := errors.New("boom")

	err := p.run(context.Background(), 1000, func(ctx context.Context, i int) error {
		if i == 5 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s := p.stats(); s.Failed != 1 {
		t.Errorf("expected 1 failure, got %+v", s)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p := newPool(2)

	err := p.run(context.Background(), 10, func(ctx context.Context, i int) error {
		if i == 3 {
			panic("kaboom")
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected error from panicking task")
	}
}

func TestPoolHonorsContextCancel(t *testing.T) {
	p := newPool(1)
	ctx, cancel := context.WithCancel(context.Background())

	var ran int64
	err := p.run(ctx, 1000, func(ctx context.Context, i int) error {
		if atomic.AddInt64(&ran, 1) == 3 {
			cancel()
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if n := atomic.LoadInt64(&ran); n >= 1000 {
		t.Errorf("expected early stop, ran %d tasks", n)
	}
}

func TestPoolZeroTasks(t *testing.T) {
	p := newPool(4)
	if err := p.run(context.Background(), 0, func(ctx context.Context, i int) error {
		t.Error("task should not run")
		return nil
	}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestPoolDefaultsWorkers(t *testing.T) {
	p := newPool(0)
	if p.workers <= 0 {
		t.Errorf("expected positive default worker count, got %d", p.workers)
	}
}
