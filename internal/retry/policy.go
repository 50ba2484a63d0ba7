package retry

import (
	"errors"
	"math/rand/v2"
	"time"
)

// DefaultJitter is the upper bound of the random delay added to every backoff.
const DefaultJitter = 100 * time.Millisecond

// Policy configures how failed fetches are retried. The zero value is not
// usable; start from DefaultPolicy.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the exponential part of the backoff.
	MaxDelay time.Duration
	// Jitter bounds the random delay added on top, in [0, Jitter).
	Jitter time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
		Jitter:      DefaultJitter,
	}
}

// Validate checks the policy for consistency.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("retry: max attempts must be at least 1")
	}
	if p.BaseDelay < 0 {
		return errors.New("retry: base delay must not be negative")
	}
	if p.MaxDelay < p.BaseDelay {
		return errors.New("retry: max delay must not be less than base delay")
	}
	if p.Jitter < 0 {
		return errors.New("retry: jitter must not be negative")
	}
	return nil
}

// Backoff returns the delay to wait after the given failed attempt (1-based)
// before the next one: min(MaxDelay, BaseDelay*2^(attempt-1)) plus jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.delay(attempt) + p.jitter()
}

func (p Policy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		// doubling past MaxDelay would only be capped, and may overflow
		if d > p.MaxDelay/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	return min(d, p.MaxDelay)
}

func (p Policy) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	return rand.N(p.Jitter)
}

// ShouldRetry reports whether another attempt follows the given failed one.
// The attempt cap is checked before the error is classified.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	return attempt < p.MaxAttempts && IsRetryable(err)
}
