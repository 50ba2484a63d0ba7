package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned when submitting to a stopped or closed pool.
var ErrPoolClosed = errors.New("pool: closed")

// Job is a unit of work run by a pool.
type Job func(ctx context.Context)

// Pool runs submitted jobs with bounded concurrency.
type Pool struct {
	name   string
	size   int
	sem    *semaphore.Weighted
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	submitted atomic.Int64
	running   atomic.Int64
}

// New creates a pool running at most size jobs at once.
func New(name string, size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		name:   name,
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger.With("pool", name),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit queues job and returns immediately.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.submitted.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			job(p.ctx)
			return
		}
		defer p.sem.Release(1)

		p.running.Add(1)
		defer p.running.Add(-1)
		job(p.ctx)
	}()
	return nil
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	p.logger.Debug("pool closed", "submitted", p.submitted.Load())
}

// Stop stops accepting jobs and cancels the context of running and queued
// jobs. It does not wait for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()
}

// Wait blocks until every submitted job has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Size returns the maximum number of concurrently running jobs.
func (p *Pool) Size() int { return p.size }

// Submitted returns the number of jobs accepted so far.
func (p *Pool) Submitted() int64 { return p.submitted.Load() }

// Running returns the number of jobs currently running.
func (p *Pool) Running() int64 { return p.running.Load() }
