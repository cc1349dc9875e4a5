// Package stt defines the provider abstraction for streaming Speech-to-Text.
//
// A Provider opens one Connection per upstream streaming session. Connections
// are never reused: when the controller restarts a segment it opens a new one
// and closes the old. Each connection owns its event channel, so events from a
// retired connection can never be attributed to its replacement. A replaced
// connection is half-closed with CloseSend so its last results still arrive.
package stt

import "context"

// StreamConfig describes the recognition settings for one connection.
type StreamConfig struct {
	SessionID string
	SegmentID string

	LanguageCode             string
	AlternativeLanguageCodes []string
	SampleRateHz             int
	AudioEncoding            string
	Model                    string
	InterimResults           bool
	EnablePunctuation        bool
	EnableDiarization        bool
	MinSpeakerCount          int
	MaxSpeakerCount          int

	// SendQueueSize bounds the audio chunks held by the connection before
	// they reach the provider. Zero uses DefaultSendQueueSize.
	SendQueueSize int
}

// Event is a single result from a connection: either a transcript or an error.
type Event struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Err        error
}

// Provider opens streaming recognition connections.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Open establishes a new connection. Errors wrap ErrProviderUnavailable
	// and carry a Kind (see Classify).
	Open(ctx context.Context, cfg StreamConfig) (Connection, error)
}

// Connection is one upstream streaming session with a capped lifetime.
type Connection interface {
	// ID returns the segment identifier this connection was opened with.
	ID() string

	// Write submits one audio chunk. It never blocks and is a no-op once the
	// connection is closing. Chunks written before the provider is ready are
	// held and flushed in order.
	Write(audio []byte)

	// Events delivers transcripts and errors. The channel is closed when the
	// connection terminates.
	Events() <-chan Event

	// CloseSend signals end of audio. Queued chunks are still delivered, then
	// the provider finalises any open utterance. Events keep flowing until
	// the provider ends the stream, after which the channel is closed
	// without an error event. Write is a no-op afterwards.
	CloseSend()

	// Close terminates the connection. Safe to call more than once.
	Close() error
}
