// Package store persists session records.
package store

import (
	"context"
	"errors"

	"speech-session-service/internal/models"
)

var (
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session not found")
	// ErrSessionCompleted is returned when mutating a completed session.
	ErrSessionCompleted = errors.New("session already completed")
	// ErrTranscriptRewrite is returned when a transcript update does not
	// extend the stored transcript.
	ErrTranscriptRewrite = errors.New("transcript update does not extend stored text")
)

// Store is the durable session store. Implementations must be safe for
// concurrent use across sessions.
type Store interface {
	// Create inserts a pending session with a fresh ID.
	Create(ctx context.Context) (*models.Session, error)

	// AppendTranscript stores the accumulated transcript for a session. The
	// text must extend what is already stored. The first call moves the
	// session from pending to recording.
	AppendTranscript(ctx context.Context, id, text string) error

	// Complete marks the session completed and sets completedAt. Completing
	// an already completed session is a no-op.
	Complete(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (*models.Session, error)

	// List returns all sessions ordered by creation time.
	List(ctx context.Context) ([]models.Session, error)

	Close() error
}
