package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// TestPoolCreation tests pool initialization
func TestPoolCreation(t *testing.T) {
	pool := NewPool(nil)
	if pool == nil {
		t.Fatal("Expected pool to be created")
	}

	if pool.workers != 4 {
		t.Errorf("Expected 4 workers, got %d", pool.workers)
	}

	pool.Shutdown(5 * time.Second)
}

func TestPoolRunsJobs(t *testing.T) {
	pool := NewPool(&PoolConfig{Workers: 3, QueueSize: 50, Timeout: time.Second})

	var ran atomic.Int64
	for i := 0; i < 20; i++ {
		err := pool.Submit(&Job{
			ID: fmt.Sprintf("job-%d", i),
			Run: func(ctx context.Context) error {
				ran.Add(1)
				if i%5 == 0 {
					return errors.New("boom")
				}
				return nil
			},
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	if err := pool.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if ran.Load() != 20 {
		t.Errorf("Expected 20 jobs to run, got %d", ran.Load())
	}

	metrics := pool.GetMetrics()
	if metrics.Submitted != 20 || metrics.CompletedOK != 16 || metrics.CompletedError != 4 {
		t.Errorf("Unexpected metrics: %+v", &metrics)
	}
}

func TestPoolQueueFull(t *testing.T) {
	pool := NewPool(&PoolConfig{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})

	blocker := &Job{ID: "blocker", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := pool.Submit(blocker); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := pool.Submit(&Job{ID: "queued", Run: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("Expected room for one queued job: %v", err)
	}
	if err := pool.Submit(&Job{ID: "overflow", Run: func(ctx context.Context) error { return nil }}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	close(release)
	pool.Shutdown(5 * time.Second)

	if err := pool.Submit(&Job{ID: "late"}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := NewPool(&PoolConfig{Workers: 1, QueueSize: 2})
	pool.Submit(&Job{ID: "panics", Run: func(ctx context.Context) error { panic("bad job") }})
	pool.Submit(&Job{ID: "after", Run: func(ctx context.Context) error { return nil }})
	pool.Shutdown(5 * time.Second)

	metrics := pool.GetMetrics()
	if metrics.CompletedError != 1 || metrics.CompletedOK != 1 {
		t.Errorf("Expected the worker to survive a panic, got %+v", &metrics)
	}
}

func TestPoolJobTimeout(t *testing.T) {
	pool := NewPool(&PoolConfig{Workers: 1, QueueSize: 1, Timeout: 20 * time.Millisecond})

	var jobErr atomic.Value
	pool.Submit(&Job{ID: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		jobErr.Store(ctx.Err())
		return ctx.Err()
	}})
	pool.Shutdown(5 * time.Second)

	if err, _ := jobErr.Load().(error); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
