package chunk

import (
	"context"
	"sync"
)

// Signal is a single-fire completion signal. It resolves exactly once, either
// successfully, with a failure, or as cancelled; later resolutions are ignored.
// One orchestrator writes it, any number of consumers may wait on it.
type Signal struct {
	once sync.Once
	done chan struct{}

	// written before done is closed
	err       error
	cancelled bool
}

// NewSignal returns an unresolved signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Complete resolves the signal successfully. It reports whether this call
// resolved the signal.
func (s *Signal) Complete() bool {
	return s.resolve(nil, false)
}

// Fail resolves the signal with err.
func (s *Signal) Fail(err error) bool {
	return s.resolve(err, false)
}

// Cancel resolves the signal as cancelled.
func (s *Signal) Cancel() bool {
	return s.resolve(ErrCancelled, true)
}

func (s *Signal) resolve(err error, cancelled bool) bool {
	resolved := false
	s.once.Do(func() {
		s.err = err
		s.cancelled = cancelled
		close(s.done)
		resolved = true
	})
	return resolved
}

// Done returns a channel closed once the signal is resolved.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Resolved reports whether the signal has been resolved.
func (s *Signal) Resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the failure, ErrCancelled, or nil. It returns nil while the
// signal is unresolved.
func (s *Signal) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Cancelled reports whether the signal resolved as cancelled.
func (s *Signal) Cancelled() bool {
	select {
	case <-s.done:
		return s.cancelled
	default:
		return false
	}
}

// Wait blocks until the signal resolves or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
