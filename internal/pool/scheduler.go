package pool

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs jobs after a delay. Waiting occupies no goroutine; a fired
// job runs on the scheduler's own pool.
type Scheduler struct {
	pool *Pool

	mu     sync.Mutex
	nextID uint64
	timers map[uint64]scheduled
	closed bool

	scheduled atomic.Int64
}

type scheduled struct {
	timer *time.Timer
	job   Job
}

// NewScheduler creates a scheduler whose fired jobs run on at most size
// goroutines at once.
func NewScheduler(size int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pool:   New("scheduler", size, logger),
		timers: make(map[uint64]scheduled),
	}
}

// Schedule runs job once after delay. It never blocks.
func (s *Scheduler) Schedule(delay time.Duration, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrPoolClosed
	}
	id := s.nextID
	s.nextID++
	s.scheduled.Add(1)

	t := time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, ok := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if !ok {
			return
		}
		if err := s.pool.Submit(job); err != nil {
			job(s.pool.ctx)
		}
	})
	s.timers[id] = scheduled{timer: t, job: job}
	return nil
}

// Stop cancels every pending delay. Jobs that were still waiting run once
// right away with a cancelled context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	var stopped []Job
	for id, sc := range s.timers {
		// a timer that already fired delivers its job itself
		if sc.timer.Stop() {
			delete(s.timers, id)
			stopped = append(stopped, sc.job)
		}
	}
	s.mu.Unlock()

	s.pool.Stop()
	for _, job := range stopped {
		go job(s.pool.ctx)
	}
}

// Pending returns the number of jobs waiting for their delay.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Scheduled returns the number of jobs scheduled so far.
func (s *Scheduler) Scheduled() int64 { return s.scheduled.Load() }
