// Package session runs one transcription session per client connection.
package session

import "fmt"

// State is the controller lifecycle state. Restarting is a flag inside
// StateActive and is not observable by the client.
type State int32

const (
	StateStarting State = iota
	StateActive
	StatePaused
	StateClosing
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StatePaused:
		return "PAUSED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true once the session is shutting down or gone.
func (s State) IsTerminal() bool {
	return s == StateClosing || s == StateClosed
}
