// Package models defines the data structures exchanged with clients, the
// session store and the event bus.
package models

import "time"

// Client message types sent over the WebSocket.
const (
	TypeTranscript      = "transcript"
	TypeSessionComplete = "session_complete"
	TypeError           = "error"
)

// Control frame types received over the WebSocket.
const (
	ControlPause          = "pause"
	ControlResume         = "resume"
	ControlRestartSegment = "restart_segment"
)

// Completion reasons reported in session_complete.
const (
	ReasonSilenceTimeout  = "silence_timeout"
	ReasonClientRequested = "client_requested"
	ReasonError           = "error"
	ReasonServerShutdown  = "server_shutdown"
)

// ClientMessage is an outbound JSON frame. Only the fields relevant to Type
// are populated.
type ClientMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text,omitempty"`
	IsFinal    *bool   `json:"isFinal,omitempty"`
	Transcript *string `json:"transcript,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// ControlFrame is an inbound JSON control frame.
type ControlFrame struct {
	Type string `json:"type"`
}

// NewTranscriptMessage builds a transcript frame.
func NewTranscriptMessage(text string, isFinal bool) ClientMessage {
	return ClientMessage{Type: TypeTranscript, Text: text, IsFinal: &isFinal}
}

// NewSessionCompleteMessage builds a session_complete frame. The transcript
// field is always present, even when empty.
func NewSessionCompleteMessage(transcript, reason string) ClientMessage {
	return ClientMessage{Type: TypeSessionComplete, Transcript: &transcript, Reason: reason}
}

// NewErrorMessage builds an error frame.
func NewErrorMessage(message string) ClientMessage {
	return ClientMessage{Type: TypeError, Message: message}
}

// TranscriptFinal is published to the event bus for every final fragment.
type TranscriptFinal struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	SegmentID  string  `json:"segmentId"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

// SessionCompleted is published once per session when it ends.
type SessionCompleted struct {
	EventType       string `json:"eventType"`
	SessionID       string `json:"sessionId"`
	Reason          string `json:"reason"`
	Restarts        int    `json:"restarts"`
	Persisted       bool   `json:"persisted"`
	DurationMs      int64  `json:"durationMs"`
	TranscriptBytes int    `json:"transcriptBytes"`
	Timestamp       int64  `json:"timestamp"`
}

// Session status values.
const (
	StatusPending   = "pending"
	StatusRecording = "recording"
	StatusCompleted = "completed"
)

// Session is the durable record owned by the session store.
type Session struct {
	ID              string     `json:"id"`
	TranscribedText string     `json:"transcribedText"`
	Status          string     `json:"status"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}
