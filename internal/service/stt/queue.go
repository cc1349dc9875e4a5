package stt

import (
	"sync"

	"github.com/rs/zerolog/log"

	"speech-session-service/internal/observability/metrics"
)

// DefaultSendQueueSize holds roughly 16s of audio at 250ms chunks.
const DefaultSendQueueSize = 64

// SendQueue serialises audio writes to a provider stream. Chunks are held
// until MarkReady is called, then delivered in order by a single sender
// goroutine. When the queue is full the oldest chunk is dropped.
type SendQueue struct {
	provider string
	send     func([]byte) error
	limit    int

	mu        sync.Mutex
	pending   [][]byte
	ready     bool
	closed    bool
	finishing bool
	final     func() error
	dropped   int

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSendQueue starts a queue that hands chunks to send. A send error stops
// delivery; the provider reports the underlying failure on its event channel.
func NewSendQueue(provider string, limit int, send func([]byte) error) *SendQueue {
	if limit <= 0 {
		limit = DefaultSendQueueSize
	}
	q := &SendQueue{
		provider: provider,
		send:     send,
		limit:    limit,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

// Push enqueues a chunk. It never blocks.
func (q *SendQueue) Push(chunk []byte) {
	q.mu.Lock()
	if q.closed || q.finishing {
		q.mu.Unlock()
		return
	}
	if len(q.pending) >= q.limit {
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.dropped++
		metrics.DefaultMetrics.RecordAudioDropped("backpressure", 1)
	}
	q.pending = append(q.pending, chunk)
	q.mu.Unlock()
	q.signal()
}

// MarkReady releases held chunks to the provider.
func (q *SendQueue) MarkReady() {
	q.mu.Lock()
	q.ready = true
	q.mu.Unlock()
	q.signal()
}

// Finish stops accepting chunks. Once everything already queued has been
// delivered, final runs on the sender goroutine and the queue closes. Only
// the first call has an effect.
func (q *SendQueue) Finish(final func() error) {
	q.mu.Lock()
	if q.closed || q.finishing {
		q.mu.Unlock()
		return
	}
	q.finishing = true
	q.final = final
	q.mu.Unlock()
	q.signal()
}

// Close stops delivery and discards anything still queued.
func (q *SendQueue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.pending = nil
		q.mu.Unlock()
		close(q.done)
	})
}

// Len returns the number of chunks waiting for delivery.
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dropped returns how many chunks were discarded because the queue was full.
func (q *SendQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *SendQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *SendQueue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}

		for {
			chunk, ok := q.next()
			if !ok {
				break
			}
			if err := q.send(chunk); err != nil {
				log.Debug().Err(err).Str("sttProvider", q.provider).Msg("Audio send failed, stopping send queue")
				q.Close()
				return
			}
		}

		if final, ok := q.takeFinal(); ok {
			if final != nil {
				if err := final(); err != nil {
					log.Debug().Err(err).Str("sttProvider", q.provider).Msg("End of audio failed")
				}
			}
			q.Close()
			return
		}
	}
}

// takeFinal reports whether the queue is finishing and fully drained.
func (q *SendQueue) takeFinal() (func() error, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || !q.finishing || !q.ready || len(q.pending) > 0 {
		return nil, false
	}
	final := q.final
	q.final = nil
	return final, true
}

func (q *SendQueue) next() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || !q.ready || len(q.pending) == 0 {
		return nil, false
	}
	chunk := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return chunk, true
}

// EventStream delivers a connection's events. Emit and Close may race
// freely; the channel is closed exactly once and never written after.
type EventStream struct {
	mu     sync.Mutex
	ch     chan Event
	done   chan struct{}
	closed bool
	once   sync.Once
}

// NewEventStream creates a stream with the given channel buffer.
func NewEventStream(buffer int) *EventStream {
	return &EventStream{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// C returns the receive side.
func (s *EventStream) C() <-chan Event { return s.ch }

// Done is closed once Close has been called.
func (s *EventStream) Done() <-chan struct{} { return s.done }

// Emit delivers ev, blocking until it is received or the stream is closed.
// It reports whether the event was delivered.
func (s *EventStream) Emit(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Close closes the channel. Pending Emit calls return false.
func (s *EventStream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
