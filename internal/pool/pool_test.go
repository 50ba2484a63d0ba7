package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var discard = slog.New(slog.DiscardHandler)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New("test", 3, discard)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		if err := p.Submit(func(ctx context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	p.Close()

	if peak.Load() > 3 {
		t.Errorf("expected at most 3 concurrent jobs, saw %d", peak.Load())
	}
	if p.Submitted() != 20 {
		t.Errorf("expected 20 submitted, got %d", p.Submitted())
	}
}

func TestPoolSubmitDoesNotBlock(t *testing.T) {
	p := New("test", 1, discard)
	defer p.Stop()

	block := make(chan struct{})
	defer close(block)

	done := make(chan struct{})
	go func() {
		for range 100 {
			p.Submit(func(ctx context.Context) {
				select {
				case <-block:
				case <-ctx.Done():
				}
			})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a saturated pool")
	}
}

func TestPoolClosed(t *testing.T) {
	p := New("test", 1, discard)
	p.Close()
	if err := p.Submit(func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolStopRunsQueuedJobsCancelled(t *testing.T) {
	p := New("test", 1, discard)

	block := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	})

	queued := make(chan error, 1)
	p.Submit(func(ctx context.Context) { queued <- ctx.Err() })

	p.Stop()
	select {
	case err := <-queued:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected queued job to see cancelled context, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued job never ran after Stop")
	}
	p.Wait()
	close(block)
}

func TestSchedulerDelays(t *testing.T) {
	s := NewScheduler(2, discard)
	defer s.Stop()

	start := time.Now()
	fired := make(chan time.Duration, 1)
	if err := s.Schedule(30*time.Millisecond, func(ctx context.Context) {
		fired <- time.Since(start)
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if s.Pending() != 1 {
		t.Errorf("expected 1 pending, got %d", s.Pending())
	}

	select {
	case d := <-fired:
		if d < 30*time.Millisecond {
			t.Errorf("job fired after %v, before its delay", d)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduled job never fired")
	}
	if s.Scheduled() != 1 {
		t.Errorf("expected 1 scheduled, got %d", s.Scheduled())
	}
}

func TestSchedulerStopRunsPendingOnce(t *testing.T) {
	s := NewScheduler(1, discard)

	var runs atomic.Int32
	ran := make(chan error, 10)
	for range 5 {
		s.Schedule(time.Hour, func(ctx context.Context) {
			runs.Add(1)
			ran <- ctx.Err()
		})
	}

	s.Stop()
	for range 5 {
		select {
		case err := <-ran:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected cancelled context, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("pending job not run on Stop")
		}
	}

	time.Sleep(10 * time.Millisecond)
	if runs.Load() != 5 {
		t.Errorf("expected 5 runs, got %d", runs.Load())
	}
	if err := s.Schedule(0, func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed after Stop, got %v", err)
	}
}
