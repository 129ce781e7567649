package app

import (
	"fmt"
	"time"

	"github.com/bft-labs/chunkship/internal/domain"
)

// Default backoff configuration values.
const (
	DefaultBackoffFactor  = 2.0
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 5 * time.Minute
)

// Backoff implements bounded exponential backoff.
// It is owned by a single sender and is not safe for concurrent use.
type Backoff struct {
	factor   float64
	initial  time.Duration
	max      time.Duration
	current  time.Duration
	attempts int
}

// NewBackoff creates a backoff that starts at initial and grows by factor up to max.
// Returns an error wrapping domain.ErrInvalidConfig unless
// factor >= 1 and 0 < initial <= max.
func NewBackoff(factor float64, initial, max time.Duration) (*Backoff, error) {
	if factor < 1 {
		return nil, fmt.Errorf("%w: backoff factor %v must be >= 1", domain.ErrInvalidConfig, factor)
	}
	if initial <= 0 {
		return nil, fmt.Errorf("%w: backoff initial duration must be positive", domain.ErrInvalidConfig)
	}
	if max < initial {
		return nil, fmt.Errorf("%w: backoff maximum %v is below initial %v", domain.ErrInvalidConfig, max, initial)
	}
	return &Backoff{
		factor:  factor,
		initial: initial,
		max:     max,
		current: initial,
	}, nil
}

// Bump returns the current delay and advances it for next time.
// The first call after construction or Reset returns the initial duration.
func (b *Backoff) Bump() time.Duration {
	d := b.current
	b.attempts++

	next := float64(b.current) * b.factor
	if next >= float64(b.max) {
		b.current = b.max
	} else {
		b.current = time.Duration(next)
	}
	return d
}

// Reset restores the backoff to its initial state.
func (b *Backoff) Reset() {
	b.current = b.initial
	b.attempts = 0
}

// Current returns the delay the next Bump will return.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Attempts returns the number of Bump calls since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
