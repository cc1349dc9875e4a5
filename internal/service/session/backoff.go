package session

import "time"

// Backoff is the per-controller exponential retry schedule for opening
// provider connections. It is reset after every successful open.
type Backoff struct {
	initial     time.Duration
	max         time.Duration
	multiplier  float64
	maxAttempts int

	attempt int
}

// NewBackoff doubles from initial up to max. maxAttempts <= 0 means
// unbounded.
func NewBackoff(initial, max time.Duration, maxAttempts int) *Backoff {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	return &Backoff{
		initial:     initial,
		max:         max,
		multiplier:  2.0,
		maxAttempts: maxAttempts,
	}
}

// Next returns the delay before the next attempt, or false when the
// attempts are exhausted.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.maxAttempts > 0 && b.attempt >= b.maxAttempts {
		return 0, false
	}
	d := float64(b.initial)
	for i := 0; i < b.attempt && d < float64(b.max); i++ {
		d *= b.multiplier
	}
	b.attempt++
	if d > float64(b.max) {
		return b.max, true
	}
	return time.Duration(d), true
}

// Reset starts the schedule over.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempts returns how many delays have been handed out since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}
