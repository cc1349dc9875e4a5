package segment

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the lifecycle state of a provider connection.
type State int

const (
	// StateLive - the connection receives audio and all its results count.
	StateLive State = iota
	// StateDraining - replaced by a newer connection; its final results
	// still count until the grace window ends, interim results do not.
	StateDraining
	// StateClosed - retired normally.
	StateClosed
	// StateDropped - abandoned after an error.
	StateDropped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLive:
		return "LIVE"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is CLOSED or DROPPED.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

// Errors for invalid state transitions.
var (
	ErrSegmentClosed = errors.New("segment is closed")
	ErrNotLive       = errors.New("segment is not live")
)

// Lifecycle is the state machine for one provider connection.
//
//	LIVE ──Drain()──→ DRAINING ──Close()──→ CLOSED
//	  │                   │
//	  └──────Drop()───────┴──→ DROPPED
type Lifecycle struct {
	mu        sync.RWMutex
	segmentID string
	state     State
	startedAt time.Time
}

// NewLifecycle creates a lifecycle in LIVE state.
func NewLifecycle(segmentID string, startedAt time.Time) *Lifecycle {
	return &Lifecycle{
		segmentID: segmentID,
		state:     StateLive,
		startedAt: startedAt,
	}
}

// SegmentID returns the segment ID.
func (l *Lifecycle) SegmentID() string {
	return l.segmentID
}

// StartedAt returns when the connection became live.
func (l *Lifecycle) StartedAt() time.Time {
	return l.startedAt
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// AcceptsPartial reports whether interim results should be forwarded.
func (l *Lifecycle) AcceptsPartial() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateLive
}

// AcceptsFinal reports whether final results should be accumulated.
func (l *Lifecycle) AcceptsFinal() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateLive || l.state == StateDraining
}

// Drain moves a live connection to DRAINING.
func (l *Lifecycle) Drain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateLive:
		l.state = StateDraining
		return nil
	case StateDraining:
		return ErrNotLive
	default:
		return ErrSegmentClosed
	}
}

// Close retires the connection. Idempotent; a dropped segment stays dropped.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateDropped {
		l.state = StateClosed
	}
}

// Drop abandons the connection after an error. Returns false if the
// segment was already terminal.
func (l *Lifecycle) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDropped
	return true
}

// Lifetime returns how long the connection has existed as of now.
func (l *Lifecycle) Lifetime(now time.Time) time.Duration {
	return now.Sub(l.startedAt)
}
