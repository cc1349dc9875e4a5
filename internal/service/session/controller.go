package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"speech-session-service/internal/config"
	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/service/audio"
	"speech-session-service/internal/service/segment"
	"speech-session-service/internal/service/stt"
	"speech-session-service/internal/service/transcript"
)

// Sink delivers messages to the client. Send must not block.
type Sink interface {
	Send(msg models.ClientMessage)
}

// Publisher receives session events for downstream consumers.
type Publisher interface {
	PublishTranscript(ctx context.Context, ev models.TranscriptFinal) error
	PublishSessionCompleted(ctx context.Context, ev models.SessionCompleted) error
}

// Config holds the per-session timing and restart budget.
type Config struct {
	BridgeDuration     time.Duration
	FlushInterval      time.Duration
	SegmentDeadline    time.Duration
	SilenceTimeout     time.Duration
	HealthInterval     time.Duration
	HealthThreshold    time.Duration
	RestartGrace       time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	MaxRestartAttempts int
	FinalFlushTimeout  time.Duration

	// Stream is the template for every provider connection. SessionID and
	// SegmentID are filled in per connection.
	Stream stt.StreamConfig
}

// ConfigFrom builds the controller config from the service config.
func ConfigFrom(cfg *config.Config) Config {
	s := cfg.Session
	return Config{
		BridgeDuration:     s.BridgeDuration,
		FlushInterval:      s.FlushInterval,
		SegmentDeadline:    s.SegmentDeadline,
		SilenceTimeout:     s.SilenceTimeout,
		HealthInterval:     s.HealthInterval,
		HealthThreshold:    s.HealthThreshold,
		RestartGrace:       s.RestartGrace,
		BackoffInitial:     s.BackoffInitial,
		BackoffMax:         s.BackoffMax,
		MaxRestartAttempts: s.MaxRestartAttempts,
		FinalFlushTimeout:  s.FinalFlushTimeout,
		Stream: stt.StreamConfig{
			LanguageCode:             cfg.STT.LanguageCode,
			AlternativeLanguageCodes: cfg.STT.AlternativeLanguageCodes,
			SampleRateHz:             cfg.STT.SampleRateHz,
			AudioEncoding:            cfg.STT.AudioEncoding,
			Model:                    cfg.STT.Model,
			InterimResults:           cfg.STT.InterimResults,
			EnablePunctuation:        cfg.STT.EnablePunctuation,
			EnableDiarization:        cfg.STT.EnableDiarization,
			MinSpeakerCount:          cfg.STT.MinSpeakerCount,
			MaxSpeakerCount:          cfg.STT.MaxSpeakerCount,
			SendQueueSize:            cfg.STT.SendQueueSize,
		},
	}
}

// Deps are the collaborators of a controller.
type Deps struct {
	Provider  stt.Provider
	Store     transcript.Store
	Publisher Publisher // optional
	Sink      Sink
}

// Result summarises a finished session.
type Result struct {
	Reason     string
	Transcript string
	Restarts   int
	Persisted  bool
}

type inputKind int

const (
	inputAudio inputKind = iota
	inputControl
)

type input struct {
	kind    inputKind
	audio   []byte
	control string
}

type openResult struct {
	generation uint64
	conn       stt.Connection
	err        error
	startedAt  time.Time
}

// providerConn pairs a connection with its lifecycle.
type providerConn struct {
	stt.Connection
	lc *segment.Lifecycle
}

// Controller owns one session: its provider connection, bridge buffer,
// transcript and timers. All state below the channels is touched only by
// the Run goroutine; other goroutines talk to it through HandleAudio,
// HandleControl and Close.
type Controller struct {
	id        string
	cfg       Config
	provider  stt.Provider
	publisher Publisher
	sink      Sink
	log       zerolog.Logger

	acc      *transcript.Accumulator
	bridge   *audio.BridgeBuffer
	segments *segment.Generator

	inbound  chan input
	closeReq chan struct{}
	opened   chan openResult
	finals   chan models.TranscriptFinal
	done     chan struct{}
	state    atomic.Int32
	runOnce  sync.Once
	result   Result
	resultMu sync.Mutex

	closeOnce   sync.Once
	closeReason string

	// Run goroutine only.
	active      *providerConn
	draining    *providerConn
	restarting  bool
	generation  uint64
	backoff     *Backoff
	restarts    int
	lastAudioAt time.Time
	startedAt   time.Time
	reason      string
	timers      TimerSet
	connCtx     context.Context
	stopFlusher context.CancelFunc
}

// New creates a controller for sessionID. Run must be called to start it.
func New(sessionID string, cfg Config, deps Deps) *Controller {
	log := logging.WithSession(sessionID).With().Str("sttProvider", deps.Provider.Name()).Logger()
	c := &Controller{
		id:        sessionID,
		cfg:       cfg,
		provider:  deps.Provider,
		publisher: deps.Publisher,
		sink:      deps.Sink,
		log:       log,
		acc:       transcript.New(sessionID, deps.Store, log),
		bridge:    audio.NewBridgeBuffer(cfg.BridgeDuration, cfg.Stream.SampleRateHz),
		segments:  segment.New(sessionID),
		inbound:   make(chan input, 64),
		closeReq:  make(chan struct{}),
		opened:    make(chan openResult),
		finals:    make(chan models.TranscriptFinal, 64),
		done:      make(chan struct{}),
		backoff:   NewBackoff(cfg.BackoffInitial, cfg.BackoffMax, cfg.MaxRestartAttempts),
	}
	c.acc.SetFlushTimeout(cfg.FinalFlushTimeout)
	c.state.Store(int32(StateStarting))
	return c
}

// ID returns the session ID.
func (c *Controller) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Done is closed when the controller reaches CLOSED.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Result returns the outcome once Done is closed.
func (c *Controller) Result() Result {
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	return c.result
}

// HandleAudio routes one inbound audio chunk. The chunk must not be
// modified afterwards.
func (c *Controller) HandleAudio(chunk []byte) {
	c.send(input{kind: inputAudio, audio: chunk})
}

// HandleControl routes one inbound control frame type.
func (c *Controller) HandleControl(frameType string) {
	c.send(input{kind: inputControl, control: frameType})
}

// Close asks the controller to end the session with reason. Calls after the
// first, or after the session ended, have no effect. Close never blocks.
func (c *Controller) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.closeReq)
	})
}

func (c *Controller) send(in input) {
	select {
	case c.inbound <- in:
	case <-c.done:
	}
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("Session state changed")
	}
}

// Run drives the session until it is closed by the client, a timer, a
// fatal provider error or ctx. It returns once the terminal path finished.
func (c *Controller) Run(ctx context.Context) Result {
	var res Result
	c.runOnce.Do(func() { res = c.run(ctx) })
	return res
}

func (c *Controller) run(ctx context.Context) Result {
	defer close(c.done)

	c.startedAt = time.Now()
	metrics.DefaultMetrics.RecordSessionStart()
	c.log.Info().Msg("Session started")

	// Flushing and publishing outlive ctx so the terminal path can still
	// persist after a server shutdown.
	bg, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBg()
	c.connCtx = bg

	flushCtx, stopFlusher := context.WithCancel(bg)
	c.stopFlusher = stopFlusher
	go c.acc.Run(flushCtx)
	published := make(chan struct{})
	go c.publishFinals(bg, published)

	c.restarting = true
	c.openConnection()

	for !c.State().IsTerminal() {
		c.step(ctx)
	}

	return c.finish(bg, published)
}

// step waits for and handles exactly one input.
func (c *Controller) step(ctx context.Context) {
	var activeEvents, drainingEvents <-chan stt.Event
	if c.active != nil {
		activeEvents = c.active.Events()
	}
	if c.draining != nil {
		drainingEvents = c.draining.Events()
	}

	select {
	case <-ctx.Done():
		c.beginClose(models.ReasonServerShutdown)

	case <-c.closeReq:
		c.beginClose(c.closeReason)

	case in := <-c.inbound:
		c.handleInput(in)

	case ev, ok := <-activeEvents:
		c.handleActiveEvent(ev, ok)

	case ev, ok := <-drainingEvents:
		c.handleDrainingEvent(ev, ok)

	case res := <-c.opened:
		c.handleOpened(res)

	case <-c.timers.flush.C():
		c.acc.RequestFlush()

	case <-c.timers.segment.C():
		c.timers.segment.fired()
		c.restart("segment_deadline")

	case <-c.timers.silence.C():
		c.timers.silence.fired()
		c.log.Info().Dur("silenceTimeout", c.cfg.SilenceTimeout).Msg("No final result within silence timeout")
		c.beginClose(models.ReasonSilenceTimeout)

	case now := <-c.timers.health.C():
		if c.cfg.HealthThreshold > 0 && now.Sub(c.lastAudioAt) > c.cfg.HealthThreshold {
			c.log.Warn().Time("lastAudioAt", c.lastAudioAt).Msg("No audio within health threshold")
			c.lastAudioAt = now
			c.restart("health_watchdog")
		}

	case <-c.timers.grace.C():
		c.timers.grace.fired()
		c.retireDraining()

	case <-c.timers.retry.C():
		c.timers.retry.fired()
		if c.restarting {
			c.openConnection()
		}
	}
}

func (c *Controller) handleInput(in input) {
	switch in.kind {
	case inputAudio:
		c.handleAudio(in.audio)
	case inputControl:
		c.handleControl(in.control)
	}
}

func (c *Controller) handleAudio(chunk []byte) {
	metrics.DefaultMetrics.RecordAudioReceived(len(chunk))

	if c.State() == StatePaused {
		metrics.DefaultMetrics.RecordAudioDropped("paused", 1)
		return
	}

	c.lastAudioAt = time.Now()
	evicted := c.bridge.Append(chunk)

	if c.active != nil {
		c.active.Write(chunk)
		return
	}
	// No live connection: the bridge buffer carries the audio to the next one.
	if evicted > 0 {
		metrics.DefaultMetrics.RecordAudioDropped("no_connection", evicted)
	}
}

func (c *Controller) handleControl(frameType string) {
	switch frameType {
	case models.ControlPause:
		c.pause()
	case models.ControlResume:
		c.resume()
	case models.ControlRestartSegment:
		c.restart("client_requested")
	default:
		c.log.Debug().Str("type", frameType).Msg("Ignoring unknown control frame")
	}
}

// pause closes the provider connections and cancels every timer. The
// transcript and the bridge buffer are kept.
func (c *Controller) pause() {
	switch c.State() {
	case StateStarting, StateActive:
	default:
		return
	}

	c.log.Info().Msg("Session paused")
	c.setState(StatePaused)
	c.generation++
	c.restarting = false
	c.timers.Stop()
	c.closeConnections()
	c.acc.RequestFlush()
}

// resume opens a fresh connection with a fresh backoff schedule.
func (c *Controller) resume() {
	if c.State() != StatePaused {
		return
	}

	c.log.Info().Msg("Session resumed")
	c.setState(StateActive)
	c.backoff.Reset()
	c.lastAudioAt = time.Now()
	c.timers.StartActivity(c.cfg, c.cfg.SegmentDeadline)
	c.restarting = true
	c.openConnection()
}

// restart begins replacing the active connection. The old connection keeps
// receiving audio until the new one is swapped in.
func (c *Controller) restart(reason string) {
	if c.restarting || c.State() != StateActive {
		return
	}

	c.restarting = true
	c.restarts++
	metrics.DefaultMetrics.RecordRestart(reason)
	c.log.Info().Str("reason", reason).Int("restarts", c.restarts).Msg("Restarting provider connection")

	c.acc.RequestFlush()
	c.openConnection()
}

// openConnection opens a provider connection in the background. The result
// comes back through c.opened tagged with the current generation.
func (c *Controller) openConnection() {
	gen := c.generation
	cfg := c.cfg.Stream
	cfg.SessionID = c.id
	cfg.SegmentID = c.segments.Next()
	ctx := c.connCtx

	go func() {
		started := time.Now()
		conn, err := c.provider.Open(ctx, cfg)
		select {
		case c.opened <- openResult{generation: gen, conn: conn, err: err, startedAt: started}:
		case <-c.done:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (c *Controller) handleOpened(res openResult) {
	if res.generation != c.generation || !c.restarting {
		// Superseded by a pause while the open was in flight.
		if res.conn != nil {
			res.conn.Close()
		}
		return
	}

	if res.err != nil {
		c.handleOpenError(res.err)
		return
	}

	now := time.Now()
	metrics.DefaultMetrics.RecordSegmentOpened(now.Sub(res.startedAt).Seconds())

	next := &providerConn{Connection: res.conn, lc: segment.NewLifecycle(res.conn.ID(), now)}
	replayed := c.bridge.Replay(next)

	// Swap: every chunk from here on goes to next only.
	prev := c.active
	c.active = next
	c.restarting = false
	c.backoff.Reset()

	if prev != nil {
		c.retireDraining()
		if err := prev.lc.Drain(); err == nil {
			// End of audio lets the provider finalise the open utterance
			// within the grace window.
			prev.CloseSend()
			c.draining = prev
			c.timers.grace.arm(c.cfg.RestartGrace)
		} else {
			c.closeConn(prev)
		}
	}

	c.log.Info().
		Str("segmentId", next.ID()).
		Int("replayedChunks", replayed).
		Msg("Provider connection active")

	// The provider's lifetime cap counts from when the stream was opened.
	remaining := segmentRemaining(c.cfg.SegmentDeadline, res.startedAt, now)
	if c.State() == StateStarting {
		c.setState(StateActive)
		c.lastAudioAt = now
		c.timers.StartActivity(c.cfg, remaining)
		return
	}
	c.timers.segment.arm(remaining)
}

func (c *Controller) handleOpenError(err error) {
	kind := stt.Classify(err)
	metrics.DefaultMetrics.RecordSegmentOpenError(kind.String())
	metrics.DefaultMetrics.RecordSTTError(c.provider.Name(), kind.String())

	if kind == stt.KindFatal {
		c.log.Error().Err(err).Msg("Provider connection failed permanently")
		c.fail(err)
		return
	}

	delay, ok := c.backoff.Next()
	if !ok {
		c.log.Error().Err(err).Int("attempts", c.backoff.Attempts()).Msg("Provider restart attempts exhausted")
		c.fail(fmt.Errorf("restart attempts exhausted: %w", err))
		return
	}

	c.log.Warn().Err(err).Dur("retryIn", delay).Int("attempt", c.backoff.Attempts()).Msg("Provider connection failed, retrying")
	c.timers.retry.arm(delay)
}

func (c *Controller) handleActiveEvent(ev stt.Event, ok bool) {
	conn := c.active
	if !ok {
		c.connectionLost(conn, stt.Transient(stt.ErrStreamEnded))
		return
	}
	if ev.Err != nil {
		c.connectionLost(conn, ev.Err)
		return
	}
	c.handleTranscript(conn, ev)
}

// connectionLost handles the active connection failing on its own.
func (c *Controller) connectionLost(conn *providerConn, err error) {
	kind := stt.Classify(err)
	metrics.DefaultMetrics.RecordSTTError(c.provider.Name(), kind.String())

	conn.lc.Drop()
	c.closeConn(conn)
	c.active = nil

	if kind == stt.KindFatal {
		c.log.Error().Err(err).Str("segmentId", conn.ID()).Msg("Provider connection failed permanently")
		c.fail(err)
		return
	}

	c.log.Warn().Err(err).Str("segmentId", conn.ID()).Msg("Provider connection lost")
	c.restart("provider_error")
}

func (c *Controller) handleDrainingEvent(ev stt.Event, ok bool) {
	conn := c.draining
	if !ok || ev.Err != nil {
		c.draining = nil
		c.timers.grace.stop()
		c.closeConn(conn)
		return
	}
	c.handleTranscript(conn, ev)
}

func (c *Controller) handleTranscript(conn *providerConn, ev stt.Event) {
	if !ev.IsFinal {
		if !conn.lc.AcceptsPartial() {
			return
		}
		metrics.DefaultMetrics.RecordPartialTranscript()
		c.sink.Send(models.NewTranscriptMessage(ev.Text, false))
		return
	}

	if !conn.lc.AcceptsFinal() {
		return
	}
	metrics.DefaultMetrics.RecordFinalTranscript()
	if !c.acc.OnFinal(ev.Text) {
		return
	}
	c.timers.silence.arm(c.cfg.SilenceTimeout)
	c.sink.Send(models.NewTranscriptMessage(ev.Text, true))
	c.enqueueFinal(conn.ID(), ev)
}

func (c *Controller) enqueueFinal(segmentID string, ev stt.Event) {
	if c.publisher == nil {
		return
	}
	msg := models.TranscriptFinal{
		SessionID:  c.id,
		SegmentID:  segmentID,
		Text:       ev.Text,
		Confidence: ev.Confidence,
		Timestamp:  time.Now().UnixMilli(),
	}
	select {
	case c.finals <- msg:
	default:
		c.log.Warn().Str("segmentId", segmentID).Msg("Final transcript event queue full, dropping event")
	}
}

// publishFinals publishes final fragments in order until c.finals is closed.
func (c *Controller) publishFinals(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for ev := range c.finals {
		if c.publisher == nil {
			continue
		}
		if err := c.publisher.PublishTranscript(ctx, ev); err != nil {
			c.log.Warn().Err(err).Str("segmentId", ev.SegmentID).Msg("Failed to publish final transcript")
		}
	}
}

func (c *Controller) retireDraining() {
	if c.draining == nil {
		return
	}
	c.timers.grace.stop()
	c.closeConn(c.draining)
	c.draining = nil
}

func (c *Controller) closeConn(conn *providerConn) {
	if conn == nil {
		return
	}
	conn.lc.Close()
	conn.Close()
	metrics.DefaultMetrics.RecordSegmentClosed(conn.lc.Lifetime(time.Now()).Seconds())
}

func (c *Controller) closeConnections() {
	c.closeConn(c.active)
	c.active = nil
	c.retireDraining()
}

// fail reports an unrecoverable error to the client and ends the session.
func (c *Controller) fail(err error) {
	c.sink.Send(models.NewErrorMessage(fmt.Sprintf("speech recognition unavailable: %v", err)))
	c.beginClose(models.ReasonError)
}

func (c *Controller) beginClose(reason string) {
	if c.State().IsTerminal() {
		return
	}
	c.reason = reason
	c.setState(StateClosing)
}

// finish is the terminal path. It runs once: stop timers, close provider
// connections, final flush, complete, publish, notify the client.
func (c *Controller) finish(bg context.Context, published <-chan struct{}) Result {
	c.timers.Stop()
	c.generation++
	c.restarting = false
	c.closeConnections()

	// Abort any background write so the final flush gets the store slot.
	c.stopFlusher()

	storeCtx, cancelStore := context.WithTimeout(bg, c.cfg.FinalFlushTimeout)
	flushErr := c.acc.Flush(storeCtx)
	if flushErr != nil {
		c.log.Error().Err(flushErr).Msg("Final transcript flush failed, transcript delivered to client only")
	}
	// Logged by the accumulator; the client still gets the transcript.
	_ = c.acc.Complete(storeCtx)
	cancelStore()

	ctx, cancel := context.WithTimeout(bg, c.cfg.FinalFlushTimeout)
	defer cancel()

	close(c.finals)
	select {
	case <-published:
	case <-ctx.Done():
	}

	text := c.acc.Text()
	res := Result{
		Reason:     c.reason,
		Transcript: text,
		Restarts:   c.restarts,
		Persisted:  flushErr == nil && !c.acc.Dirty(),
	}

	if c.publisher != nil {
		err := c.publisher.PublishSessionCompleted(ctx, models.SessionCompleted{
			SessionID:       c.id,
			Reason:          res.Reason,
			Restarts:        res.Restarts,
			Persisted:       res.Persisted,
			DurationMs:      time.Since(c.startedAt).Milliseconds(),
			TranscriptBytes: len(text),
			Timestamp:       time.Now().UnixMilli(),
		})
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to publish session completion")
		}
	}

	c.sink.Send(models.NewSessionCompleteMessage(text, res.Reason))

	duration := time.Since(c.startedAt)
	metrics.DefaultMetrics.RecordSessionEnd(res.Reason, duration.Seconds())
	c.log.Info().
		Str("reason", res.Reason).
		Int("restarts", res.Restarts).
		Bool("persisted", res.Persisted).
		Dur("duration", duration).
		Msg("Session completed")

	c.resultMu.Lock()
	c.result = res
	c.resultMu.Unlock()
	c.setState(StateClosed)
	return res
}
