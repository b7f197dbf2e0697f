// Package backoff computes delays between delivery retries.
package backoff

import (
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns the wait before retry n (1-indexed): retry 1 follows the
	// first failed attempt.
	Delay(retry int) time.Duration
}

// Exponential doubles the delay on each retry, capped at Max when set.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(retry-1), capped at Max.
func (e *Exponential) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := e.Initial << (retry - 1)
	// d < Initial means the shift overflowed.
	if e.Max > 0 && (d > e.Max || d < e.Initial) {
		return e.Max
	}
	return d
}

// Default is the delivery schedule: 2s, 4s, 8s.
func Default() Strategy {
	return NewExponential(2*time.Second, 8*time.Second)
}
