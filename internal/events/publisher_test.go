package events

import (
	"context"
	"errors"
	"testing"

	"speech-session-service/internal/models"
	"speech-session-service/internal/schema"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.Enabled() {
				t.Error("expected publisher to be disabled")
			}
			if p.writerTranscript != nil || p.writerSession != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_Enabled(t *testing.T) {
	p := New(&Config{
		Enabled:         true,
		Brokers:         []string{"localhost:9092"},
		TopicTranscript: "t.final",
		TopicSession:    "t.session",
		Principal:       "svc",
	})
	defer p.Close()

	if !p.Enabled() {
		t.Fatal("expected publisher enabled")
	}
	if p.writerTranscript.Topic != "t.final" {
		t.Errorf("expected transcript topic 't.final', got %s", p.writerTranscript.Topic)
	}
	if p.writerSession.Topic != "t.session" {
		t.Errorf("expected session topic 't.session', got %s", p.writerSession.Topic)
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:         false,
		Brokers:         []string{"localhost:9092"},
		TopicTranscript: "test.transcript",
		TopicSession:    "test.session",
		Principal:       "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicTranscript != "test.transcript" {
		t.Errorf("expected transcript topic 'test.transcript', got %s", p.topicTranscript)
	}
	if p.topicSession != "test.session" {
		t.Errorf("expected session topic 'test.session', got %s", p.topicSession)
	}
}

func TestPublisher_PublishTranscript_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicTranscript: "test.transcript"})

	err := p.PublishTranscript(context.Background(), models.TranscriptFinal{
		SessionID:  "sess-1",
		SegmentID:  "sess-1-seg-1",
		Text:       "hello world",
		Confidence: 0.9,
	})
	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishSessionCompleted_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicSession: "test.session"})

	err := p.PublishSessionCompleted(context.Background(), models.SessionCompleted{
		SessionID: "sess-1",
		Reason:    models.ReasonSilenceTimeout,
		Persisted: true,
	})
	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_RejectsInvalidEvents(t *testing.T) {
	p := New(&Config{Enabled: false, TopicTranscript: "t.final", TopicSession: "t.session"})
	ctx := context.Background()

	if err := p.PublishTranscript(ctx, models.TranscriptFinal{SessionID: "sess-1", Text: "hi"}); !errors.Is(err, schema.ErrInvalidEvent) {
		t.Errorf("expected missing segment to be rejected, got %v", err)
	}
	if err := p.PublishSessionCompleted(ctx, models.SessionCompleted{SessionID: "sess-1", Reason: "unknown"}); !errors.Is(err, schema.ErrInvalidEvent) {
		t.Errorf("expected unknown reason to be rejected, got %v", err)
	}
}

func TestPublisher_PublishInvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.publish(context.Background(), nil, "topic", "type", "key", make(chan int))
	if err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}
