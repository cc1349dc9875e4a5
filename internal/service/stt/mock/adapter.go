// Package mock provides a scripted STT provider for local runs without cloud
// credentials. Each connection plays through utterances as audio arrives:
// progressive partials, then exactly one final per utterance.
package mock

import (
	"context"
	"sync"

	"speech-session-service/internal/service/stt"
)

// Utterance is one scripted spoken segment.
type Utterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances are cycled across connections.
var DefaultUtterances = []Utterance{
	{
		Partials:   []string{"The patient", "The patient reports", "The patient reports mild"},
		Final:      "The patient reports mild headaches in the morning",
		Confidence: 0.93,
	},
	{
		Partials:   []string{"No", "No known allergies"},
		Final:      "No known allergies",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Blood pressure", "Blood pressure is one", "Blood pressure is one twenty"},
		Final:      "Blood pressure is one twenty over eighty",
		Confidence: 0.9,
	},
	{
		Partials:   []string{"Follow up"},
		Final:      "Follow up in two weeks",
		Confidence: 0.96,
	},
}

// DefaultChunksPerStep is how many audio chunks advance the script by one step.
const DefaultChunksPerStep = 4

// Provider implements stt.Provider with scripted responses.
type Provider struct {
	utterances    []Utterance
	chunksPerStep int

	mu   sync.Mutex
	next int
}

// New creates a mock provider. A nil script uses DefaultUtterances and a
// non-positive step uses DefaultChunksPerStep.
func New(utterances []Utterance, chunksPerStep int) *Provider {
	if len(utterances) == 0 {
		utterances = DefaultUtterances
	}
	if chunksPerStep <= 0 {
		chunksPerStep = DefaultChunksPerStep
	}
	return &Provider{utterances: utterances, chunksPerStep: chunksPerStep}
}

// Name returns the provider name.
func (p *Provider) Name() string { return "mock" }

// Open returns a connection that is ready immediately.
func (p *Provider) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, stt.Unavailable(err)
	}

	p.mu.Lock()
	start := p.next
	p.next++
	p.mu.Unlock()

	c := &connection{
		id:            cfg.SegmentID,
		utterances:    p.utterances,
		utterance:     start % len(p.utterances),
		chunksPerStep: p.chunksPerStep,
		interim:       cfg.InterimResults,
		events:        stt.NewEventStream(16),
	}
	c.queue = stt.NewSendQueue("mock", cfg.SendQueueSize, c.consume)
	c.queue.MarkReady()
	return c, nil
}

type connection struct {
	id            string
	utterances    []Utterance
	chunksPerStep int
	interim       bool
	queue         *stt.SendQueue
	events        *stt.EventStream

	// Owned by the send queue goroutine.
	chunks    int
	utterance int
	step      int

	once sync.Once
}

func (c *connection) ID() string { return c.id }

func (c *connection) Write(audio []byte) {
	c.queue.Push(audio)
}

func (c *connection) Events() <-chan stt.Event {
	return c.events.C()
}

// CloseSend finalises the utterance in progress, if any, once queued
// audio has been consumed, then ends the stream.
func (c *connection) CloseSend() {
	c.queue.Finish(c.endOfAudio)
}

func (c *connection) Close() error {
	c.once.Do(func() {
		c.queue.Close()
		c.events.Close()
	})
	return nil
}

// consume advances the script by one chunk.
func (c *connection) consume(_ []byte) error {
	c.chunks++
	if c.chunks%c.chunksPerStep != 0 {
		return nil
	}

	utt := c.utterances[c.utterance]
	if c.step < len(utt.Partials) {
		text := utt.Partials[c.step]
		c.step++
		if c.interim {
			c.events.Emit(stt.Event{Text: text})
		}
		return nil
	}

	c.events.Emit(stt.Event{Text: utt.Final, IsFinal: true, Confidence: utt.Confidence})
	c.step = 0
	c.utterance = (c.utterance + 1) % len(c.utterances)
	return nil
}

// endOfAudio runs on the send queue goroutine after the last chunk.
func (c *connection) endOfAudio() error {
	if c.step > 0 || c.chunks%c.chunksPerStep != 0 {
		utt := c.utterances[c.utterance]
		c.events.Emit(stt.Event{Text: utt.Final, IsFinal: true, Confidence: utt.Confidence})
		c.step = 0
		c.utterance = (c.utterance + 1) % len(c.utterances)
	}
	c.events.Close()
	return nil
}
