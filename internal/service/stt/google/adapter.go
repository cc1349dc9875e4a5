// Package google provides a Google Cloud Speech-to-Text provider.
package google

import (
	"context"
	"errors"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/service/stt"
)

const providerName = "google"

// Provider implements stt.Provider using Google Cloud Speech-to-Text
// streaming recognition. One gRPC client is shared by every connection.
type Provider struct {
	client *speech.Client
}

// New creates a Google STT provider.
func New(ctx context.Context, credentialsJSON string) (*Provider, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, stt.Unavailable(err)
	}
	return &Provider{client: c}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return providerName }

// Close releases the underlying gRPC client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Open starts a streaming recognition session and sends the recognition
// config. The stream accepts audio once the config has been sent.
func (p *Provider) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Connection, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	stream, err := p.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, stt.Unavailable(err)
	}

	if err := stream.Send(streamingConfigRequest(cfg)); err != nil {
		cancel()
		// Send reports io.EOF when the server has already rejected the
		// stream; Recv carries the real status.
		if errors.Is(err, io.EOF) {
			if _, rerr := stream.Recv(); rerr != nil {
				err = rerr
			}
		}
		return nil, stt.Unavailable(err)
	}

	return newConnection(cfg, stream, cancel), nil
}

// newConnection wraps a stream whose config has already been sent.
func newConnection(cfg stt.StreamConfig, stream speechpb.Speech_StreamingRecognizeClient, cancel context.CancelFunc) *connection {
	c := &connection{
		id:     cfg.SegmentID,
		stream: stream,
		cancel: cancel,
		events: stt.NewEventStream(32),
		log:    logging.WithSegment(cfg.SessionID, cfg.SegmentID, providerName),
	}
	c.queue = stt.NewSendQueue(providerName, cfg.SendQueueSize, c.sendAudio)
	c.queue.MarkReady()

	go c.receive()
	return c
}

type connection struct {
	id     string
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	queue  *stt.SendQueue
	events *stt.EventStream
	log    zerolog.Logger

	mu       sync.Mutex
	closed   bool
	draining bool
}

func (c *connection) ID() string { return c.id }

func (c *connection) Write(audio []byte) {
	c.queue.Push(audio)
}

func (c *connection) Events() <-chan stt.Event {
	return c.events.C()
}

// CloseSend half-closes the stream after queued audio has been sent. Google
// then returns the remaining finals and ends the stream with io.EOF.
func (c *connection) CloseSend() {
	c.mu.Lock()
	if c.closed || c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	c.mu.Unlock()

	c.queue.Finish(c.stream.CloseSend)
}

// Close cancels the stream context, which tears down both directions.
func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.queue.Close()
	c.cancel()
	c.events.Close()
	return nil
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
	return c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// receive reads responses until the stream ends and converts them to events.
func (c *connection) receive() {
	defer c.events.Close()

	for {
		resp, err := c.stream.Recv()
		if err != nil {
			if c.isClosed() {
				return
			}
			if errors.Is(err, io.EOF) && c.isDraining() {
				c.log.Debug().Msg("Google stream finished after end of audio")
				return
			}
			if errors.Is(err, io.EOF) {
				err = stt.Transient(stt.ErrStreamEnded)
			}
			c.log.Warn().Err(err).Str("kind", stt.Classify(err).String()).Msg("Google stream terminated")
			c.events.Emit(stt.Event{Err: err})
			c.queue.Close()
			return
		}

		if resp.Error != nil && resp.Error.Code != 0 {
			c.log.Warn().Int32("code", resp.Error.Code).Str("message", resp.Error.Message).Msg("Google reported stream error")
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			c.events.Emit(stt.Event{
				Text:       alt.Transcript,
				IsFinal:    r.IsFinal,
				Confidence: float64(alt.Confidence),
			})
		}
	}
}

// streamingConfigRequest builds the first message of a streaming session.
func streamingConfigRequest(cfg stt.StreamConfig) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig(cfg),
				InterimResults: cfg.InterimResults,
			},
		},
	}
}

func recognitionConfig(cfg stt.StreamConfig) *speechpb.RecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(cfg.AudioEncoding),
		SampleRateHertz:            int32(cfg.SampleRateHz),
		LanguageCode:               cfg.LanguageCode,
		AlternativeLanguageCodes:   cfg.AlternativeLanguageCodes,
		EnableAutomaticPunctuation: cfg.EnablePunctuation,
		Model:                      cfg.Model,
	}
	if cfg.EnableDiarization {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(cfg.MinSpeakerCount),
			MaxSpeakerCount:          int32(cfg.MaxSpeakerCount),
		}
	}
	return rc
}

// parseAudioEncoding converts string encoding to Google's enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
