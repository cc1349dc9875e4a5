// Package deepgram provides a Deepgram live transcription provider.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/service/stt"
)

const providerName = "deepgram"

var (
	errMissingAPIKey = errors.New("deepgram api key is not configured")
	errConnectFailed = errors.New("deepgram websocket connect failed")
)

// Provider implements stt.Provider using the Deepgram live websocket API.
type Provider struct {
	apiKey string
	model  string
}

// New creates a Deepgram provider. The model overrides the generic
// recognition model, which is Google specific.
func New(apiKey, model string) *Provider {
	if model == "" {
		model = "nova-2"
	}
	return &Provider{apiKey: apiKey, model: model}
}

// Name returns the provider name.
func (p *Provider) Name() string { return providerName }

// Open dials Deepgram. Audio written before the socket is open is queued.
func (p *Provider) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Connection, error) {
	if p.apiKey == "" {
		return nil, stt.Unavailable(stt.Fatal(errMissingAPIKey))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c := &connection{
		id:     cfg.SegmentID,
		cancel: cancel,
		events: stt.NewEventStream(32),
		log:    logging.WithSegment(cfg.SessionID, cfg.SegmentID, providerName),
	}
	c.queue = stt.NewSendQueue(providerName, cfg.SendQueueSize, c.sendAudio)

	cb := &callbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		conn:                   c,
	}

	client, err := listenClient.NewWSUsingCallback(streamCtx, p.apiKey, clientOptions(), p.transcriptionOptions(cfg), cb)
	if err != nil {
		c.teardown()
		return nil, stt.Unavailable(stt.Fatal(fmt.Errorf("create deepgram client: %w", err)))
	}
	c.client = client

	if connected := client.Connect(); !connected {
		c.teardown()
		return nil, stt.Unavailable(stt.Transient(errConnectFailed))
	}

	c.queue.MarkReady()
	return c, nil
}

func clientOptions() *interfaces.ClientOptions {
	return &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
}

func (p *Provider) transcriptionOptions(cfg stt.StreamConfig) *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          p.model,
		Language:       cfg.LanguageCode,
		Encoding:       encoding(cfg.AudioEncoding),
		SampleRate:     cfg.SampleRateHz,
		Channels:       1,
		InterimResults: cfg.InterimResults,
		Punctuate:      cfg.EnablePunctuation,
		SmartFormat:    cfg.EnablePunctuation,
		Diarize:        cfg.EnableDiarization,
	}
}

// encoding maps recognition encodings to Deepgram's names.
func encoding(e string) string {
	switch e {
	case "", "LINEAR16":
		return "linear16"
	case "MULAW":
		return "mulaw"
	case "OGG_OPUS", "WEBM_OPUS":
		return "opus"
	default:
		return strings.ToLower(e)
	}
}

type connection struct {
	id     string
	client *listenClient.WSCallback
	cancel context.CancelFunc
	queue  *stt.SendQueue
	events *stt.EventStream
	log    zerolog.Logger

	mu       sync.Mutex
	closed   bool
	draining bool
}

// closeStream asks Deepgram to flush pending results and close the socket.
type closeStream struct {
	Type string `json:"type"`
}

func (c *connection) ID() string { return c.id }

func (c *connection) Write(audio []byte) {
	c.queue.Push(audio)
}

func (c *connection) Events() <-chan stt.Event {
	return c.events.C()
}

func (c *connection) CloseSend() {
	c.mu.Lock()
	if c.closed || c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	c.mu.Unlock()

	c.queue.Finish(func() error {
		return c.client.WriteJSON(closeStream{Type: "CloseStream"})
	})
}

func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Release any callback blocked on delivery before stopping the client.
	c.queue.Close()
	c.events.Close()
	if c.client != nil {
		c.client.Stop()
	}
	c.cancel()
	return nil
}

func (c *connection) teardown() {
	c.queue.Close()
	c.cancel()
	c.events.Close()
}

func (c *connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *connection) isDraining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

func (c *connection) sendAudio(audio []byte) error {
	_, err := c.client.Write(audio)
	return err
}

// fail reports a terminal error once and stops accepting audio.
func (c *connection) fail(err error) {
	if c.isClosed() {
		return
	}
	c.log.Warn().Err(err).Str("kind", stt.Classify(err).String()).Msg("Deepgram stream terminated")
	c.events.Emit(stt.Event{Err: err})
	c.queue.Close()
	c.events.Close()
}

// callbackHandler embeds the SDK default handler and overrides the events
// the connection cares about.
type callbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	conn *connection
}

func (h *callbackHandler) Open(or *msginterfaces.OpenResponse) error {
	h.conn.log.Debug().Msg("Deepgram connection opened")
	return nil
}

func (h *callbackHandler) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	h.conn.events.Emit(stt.Event{
		Text:       alt.Transcript,
		IsFinal:    mr.IsFinal,
		Confidence: alt.Confidence,
	})
	return nil
}

func (h *callbackHandler) Metadata(md *msginterfaces.MetadataResponse) error {
	h.conn.log.Debug().Str("requestId", md.RequestID).Msg("Deepgram metadata received")
	return nil
}

func (h *callbackHandler) Close(cr *msginterfaces.CloseResponse) error {
	if h.conn.isDraining() {
		h.conn.log.Debug().Msg("Deepgram stream finished after end of audio")
		h.conn.queue.Close()
		h.conn.events.Close()
		return nil
	}
	h.conn.fail(stt.Transient(stt.ErrStreamEnded))
	return nil
}

func (h *callbackHandler) Error(er *msginterfaces.ErrorResponse) error {
	h.conn.fail(classifyError(er))
	return nil
}

// classifyError maps Deepgram error frames to a Kind. Auth and quota
// failures cannot be fixed by reconnecting.
func classifyError(er *msginterfaces.ErrorResponse) error {
	err := fmt.Errorf("deepgram error %s: %s", er.ErrCode, er.ErrMsg)
	text := strings.ToLower(er.ErrCode + " " + er.ErrMsg)
	for _, marker := range []string{"401", "403", "unauthorized", "forbidden", "invalid credentials", "insufficient", "402"} {
		if strings.Contains(text, marker) {
			return stt.Fatal(err)
		}
	}
	return stt.Transient(err)
}
