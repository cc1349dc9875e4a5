// Package schema checks outbound events before they are published.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"speech-session-service/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the required fields of a known event type. Unknown
// types are rejected so a new event cannot reach Kafka unchecked.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.TranscriptFinal:
		return validateTranscript(ev)
	case *models.TranscriptFinal:
		if ev == nil {
			return fmt.Errorf("%w: nil transcript event", ErrInvalidEvent)
		}
		return validateTranscript(*ev)
	case models.SessionCompleted:
		return validateCompleted(ev)
	case *models.SessionCompleted:
		if ev == nil {
			return fmt.Errorf("%w: nil completion event", ErrInvalidEvent)
		}
		return validateCompleted(*ev)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}
}

func validateTranscript(ev models.TranscriptFinal) error {
	switch {
	case ev.SessionID == "":
		return fmt.Errorf("%w: transcript missing sessionId", ErrInvalidEvent)
	case ev.SegmentID == "":
		return fmt.Errorf("%w: transcript missing segmentId", ErrInvalidEvent)
	case strings.TrimSpace(ev.Text) == "":
		return fmt.Errorf("%w: transcript text empty", ErrInvalidEvent)
	case ev.Confidence < 0 || ev.Confidence > 1:
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidEvent, ev.Confidence)
	}
	return nil
}

func validateCompleted(ev models.SessionCompleted) error {
	if ev.SessionID == "" {
		return fmt.Errorf("%w: completion missing sessionId", ErrInvalidEvent)
	}
	switch ev.Reason {
	case models.ReasonSilenceTimeout, models.ReasonClientRequested, models.ReasonError, models.ReasonServerShutdown:
	default:
		return fmt.Errorf("%w: unknown completion reason %q", ErrInvalidEvent, ev.Reason)
	}
	if ev.Restarts < 0 {
		return fmt.Errorf("%w: negative restart count", ErrInvalidEvent)
	}
	return nil
}
