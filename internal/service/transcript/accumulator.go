// Package transcript accumulates final transcript fragments for a session
// and persists them to the session store.
package transcript

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-session-service/internal/observability/metrics"
)

// Store is the subset of the session store the accumulator writes to.
type Store interface {
	AppendTranscript(ctx context.Context, id, text string) error
	Complete(ctx context.Context, id string) error
}

// DefaultFlushTimeout bounds one background store write.
const DefaultFlushTimeout = 5 * time.Second

// Accumulator holds the session transcript in memory. The in-memory text is
// the source of truth until it is flushed; it only ever grows.
//
// OnFinal is called from the session controller. Flush may run on the
// background flusher and the controller concurrently; writes are serialised
// so the store always sees snapshots in finalisation order. Waiting for a
// write slot respects the caller's context, so a hung store cannot hold up
// the session's terminal path past its deadline.
type Accumulator struct {
	sessionID    string
	store        Store
	log          zerolog.Logger
	now          func() time.Time
	flushTimeout time.Duration

	mu          sync.Mutex
	text        string
	lastFinalAt time.Time
	completed   bool
	persisted   string

	// flushSlot holds a token while a store write is in flight.
	flushSlot chan struct{}

	requests     chan struct{}
	completeOnce sync.Once
	completeErr  error
}

// New creates an accumulator for one session.
func New(sessionID string, store Store, log zerolog.Logger) *Accumulator {
	return &Accumulator{
		sessionID:    sessionID,
		store:        store,
		log:          log,
		now:          time.Now,
		flushTimeout: DefaultFlushTimeout,
		flushSlot:    make(chan struct{}, 1),
		requests:     make(chan struct{}, 1),
	}
}

// SetFlushTimeout changes the bound on background writes. Call before Run.
func (a *Accumulator) SetFlushTimeout(d time.Duration) {
	if d > 0 {
		a.flushTimeout = d
	}
}

// OnFinal appends a final fragment, space-joined, and requests a flush.
// Blank fragments are ignored. Returns false if nothing was appended.
func (a *Accumulator) OnFinal(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	a.mu.Lock()
	if a.completed {
		a.mu.Unlock()
		return false
	}
	if a.text == "" {
		a.text = text
	} else {
		a.text += " " + text
	}
	a.lastFinalAt = a.now()
	a.mu.Unlock()

	a.RequestFlush()
	return true
}

// RequestFlush asks the background flusher to persist. Never blocks;
// requests coalesce.
func (a *Accumulator) RequestFlush() {
	select {
	case a.requests <- struct{}{}:
	default:
	}
}

// Run persists on every flush request until ctx is done. Each write gets
// its own timeout; cancelling ctx also aborts a write in flight.
func (a *Accumulator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.requests:
			flushCtx, cancel := context.WithTimeout(ctx, a.flushTimeout)
			_ = a.Flush(flushCtx)
			cancel()
		}
	}
}

func (a *Accumulator) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case a.flushSlot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Accumulator) release() { <-a.flushSlot }

// Flush persists the current transcript if it is non-empty and differs from
// the last persisted value. Failures are logged and returned; the next
// flush retries with the latest snapshot.
func (a *Accumulator) Flush(ctx context.Context) error {
	if err := a.acquire(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Transcript flush abandoned while waiting for previous write")
		return err
	}
	defer a.release()

	a.mu.Lock()
	text := a.text
	persisted := a.persisted
	completed := a.completed
	a.mu.Unlock()

	if text == "" || text == persisted || completed {
		return nil
	}

	start := time.Now()
	err := a.store.AppendTranscript(ctx, a.sessionID, text)
	metrics.DefaultMetrics.RecordFlush(err, time.Since(start).Seconds())
	if err != nil {
		a.log.Warn().Err(err).Int("transcriptBytes", len(text)).Msg("Transcript flush failed")
		return err
	}

	a.mu.Lock()
	a.persisted = text
	a.mu.Unlock()
	a.log.Debug().Int("transcriptBytes", len(text)).Msg("Transcript flushed")
	return nil
}

// Complete marks the session completed in the store. Only the first call
// reaches the store; later calls return the first result. No store
// mutation is attempted afterwards.
func (a *Accumulator) Complete(ctx context.Context) error {
	a.completeOnce.Do(func() {
		a.mu.Lock()
		a.completed = true
		a.mu.Unlock()

		if err := a.acquire(ctx); err != nil {
			a.completeErr = err
			a.log.Error().Err(err).Msg("Failed to mark session completed")
			return
		}
		defer a.release()

		a.completeErr = a.store.Complete(ctx, a.sessionID)
		if a.completeErr != nil {
			a.log.Error().Err(a.completeErr).Msg("Failed to mark session completed")
		}
	})
	return a.completeErr
}

// Text returns the accumulated transcript.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// LastFinalAt returns when the last final fragment arrived.
func (a *Accumulator) LastFinalAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastFinalAt
}

// Persisted returns the last transcript successfully written to the store.
func (a *Accumulator) Persisted() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.persisted
}

// Dirty reports whether the in-memory transcript is ahead of the store.
func (a *Accumulator) Dirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text != a.persisted
}
