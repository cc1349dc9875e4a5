// Package events publishes session events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/schema"
)

// Event types carried in the eventType header and payload.
const (
	EventTranscriptFinal  = "session.transcript.final"
	EventSessionCompleted = "session.completed"
)

// Publisher publishes final transcript fragments and session lifecycle
// events to separate Kafka topics. With Kafka disabled it only logs.
type Publisher struct {
	writerTranscript *kafka.Writer
	writerSession    *kafka.Writer
	principal        string
	topicTranscript  string
	topicSession     string
	enabled          bool
	metrics          *metrics.Metrics
	validator        *schema.Validator
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicTranscript string
	TopicSession    string
	Principal       string
	Enabled         bool
}

// New creates a Kafka event publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled:   false,
			metrics:   m,
			validator: schema.New(),
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:       cfg.Principal,
			topicTranscript: cfg.TopicTranscript,
			topicSession:    cfg.TopicSession,
			enabled:         false,
			metrics:         m,
			validator:       schema.New(),
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("topicSession", cfg.TopicSession).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTranscript: newWriter(cfg.Brokers, cfg.TopicTranscript, transport),
		writerSession:    newWriter(cfg.Brokers, cfg.TopicSession, transport),
		principal:        cfg.Principal,
		topicTranscript:  cfg.TopicTranscript,
		topicSession:     cfg.TopicSession,
		enabled:          true,
		metrics:          m,
		validator:        schema.New(),
	}
}

// newWriter keys by session ID so that a session's events stay ordered
// within one partition.
func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool { return p.enabled }

// PublishTranscript publishes one final transcript fragment.
func (p *Publisher) PublishTranscript(ctx context.Context, ev models.TranscriptFinal) error {
	ev.EventType = EventTranscriptFinal
	if err := p.validate(p.topicTranscript, EventTranscriptFinal, ev); err != nil {
		return err
	}
	return p.publish(ctx, p.writerTranscript, p.topicTranscript, EventTranscriptFinal, ev.SessionID, ev)
}

// PublishSessionCompleted publishes the terminal event of a session.
func (p *Publisher) PublishSessionCompleted(ctx context.Context, ev models.SessionCompleted) error {
	ev.EventType = EventSessionCompleted
	if err := p.validate(p.topicSession, EventSessionCompleted, ev); err != nil {
		return err
	}
	return p.publish(ctx, p.writerSession, p.topicSession, EventSessionCompleted, ev.SessionID, ev)
}

func (p *Publisher) validate(topic, eventType string, event any) error {
	if err := p.validator.Validate(event); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Rejected event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, 0)
		return err
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		Str("eventType", eventType).
		Int("payloadBytes", len(payload)).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTranscript != nil {
		if e := p.writerTranscript.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transcript writer")
			err = e
		}
	}
	if p.writerSession != nil {
		if e := p.writerSession.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing session writer")
			err = e
		}
	}
	return err
}
