package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mudler/xlog"
)

// ErrQueueFull is returned by Submit when the dispatch queue has no room
var ErrQueueFull = errors.New("dispatch queue full")

// ErrPoolClosed is returned by Submit after Shutdown
var ErrPoolClosed = errors.New("dispatch pool closed")

// Job is one fire-and-forget unit of work
type Job struct {
	ID  string
	Run func(ctx context.Context) error
}

// Pool runs jobs on a fixed set of workers
type Pool struct {
	workers int
	timeout time.Duration
	queue   chan *Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	metrics *PoolMetrics

	closeMu sync.RWMutex
	closed  bool
}

// PoolMetrics tracks pool activity
type PoolMetrics struct {
	Submitted       int64
	CompletedOK     int64
	CompletedError  int64
	TotalLatency    time.Duration
	AverageLatency  time.Duration
	CurrentInflight int
	mu              sync.RWMutex
}

// PoolConfig holds pool configuration
type PoolConfig struct {
	Workers   int           // Number of worker goroutines
	QueueSize int           // Size of the job queue
	Timeout   time.Duration // Per-job deadline, zero for none
}

// DefaultPoolConfig returns default pool configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:   4,
		QueueSize: 256,
		Timeout:   time.Minute,
	}
}

// NewPool creates a pool and starts its workers
func NewPool(config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers < 1 {
		config.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		workers: config.Workers,
		timeout: config.Timeout,
		queue:   make(chan *Job, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		metrics: &PoolMetrics{},
	}

	for i := 0; i < pool.workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.queue {
		p.process(job)
	}
}

func (p *Pool) process(job *Job) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.metrics.mu.Lock()
	p.metrics.CurrentInflight++
	p.metrics.mu.Unlock()

	start := time.Now()
	err := runJob(ctx, job)
	latency := time.Since(start)

	if err != nil {
		xlog.Warn("Dispatch job failed", "job", job.ID, "error", err)
	}

	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	p.metrics.CurrentInflight--
	if err == nil {
		p.metrics.CompletedOK++
	} else {
		p.metrics.CompletedError++
	}
	p.metrics.TotalLatency += latency
	if done := p.metrics.CompletedOK + p.metrics.CompletedError; done > 0 {
		p.metrics.AverageLatency = p.metrics.TotalLatency / time.Duration(done)
	}
}

func runJob(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

// Submit queues a job without blocking
func (p *Pool) Submit(job *Job) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- job:
		p.metrics.mu.Lock()
		p.metrics.Submitted++
		p.metrics.mu.Unlock()
		return nil
	default:
		return ErrQueueFull
	}
}

// GetMetrics returns a snapshot of pool metrics
func (p *Pool) GetMetrics() PoolMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return PoolMetrics{
		Submitted:       p.metrics.Submitted,
		CompletedOK:     p.metrics.CompletedOK,
		CompletedError:  p.metrics.CompletedError,
		TotalLatency:    p.metrics.TotalLatency,
		AverageLatency:  p.metrics.AverageLatency,
		CurrentInflight: p.metrics.CurrentInflight,
	}
}

// QueueLength returns the number of queued jobs
func (p *Pool) QueueLength() int {
	return len(p.queue)
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
// Jobs still running at the deadline have their context cancelled.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("shutdown timeout exceeded")
	}
}
