package google

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc"

	"speech-session-service/internal/service/stt"
)

// fakeStream answers CloseSend with one pending final, then io.EOF, the way
// Google finishes a half-closed stream.
type fakeStream struct {
	grpc.ClientStream

	mu               sync.Mutex
	audio            []string
	audioAtCloseSend int
	closedSend       bool
	responses        chan *speechpb.StreamingRecognizeResponse
}

func newFakeStream() *fakeStream {
	return &fakeStream{responses: make(chan *speechpb.StreamingRecognizeResponse, 4)}
}

func (s *fakeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, string(req.GetAudioContent()))
	return nil
}

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedSend {
		return nil
	}
	s.closedSend = true
	s.audioAtCloseSend = len(s.audio)
	s.responses <- finalResponse("pending words")
	close(s.responses)
	return nil
}

func (s *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	resp, ok := <-s.responses
	if !ok {
		return nil, io.EOF
	}
	return resp, nil
}

func finalResponse(text string) *speechpb.StreamingRecognizeResponse {
	return &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			IsFinal:      true,
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text, Confidence: 0.8}},
		}},
	}
}

func drainEvents(t *testing.T, ch <-chan stt.Event) []stt.Event {
	t.Helper()
	var out []stt.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("events not closed, got %d so far", len(out))
		}
	}
}

func TestConnection_CloseSendDeliversPendingFinal(t *testing.T) {
	stream := newFakeStream()
	_, cancel := context.WithCancel(context.Background())
	c := newConnection(stt.StreamConfig{SessionID: "sess-1", SegmentID: "sess-1-seg-1"}, stream, cancel)
	defer c.Close()

	c.Write([]byte("a"))
	c.Write([]byte("b"))
	c.CloseSend()
	c.Write([]byte("late"))

	events := drainEvents(t, c.Events())
	if len(events) != 1 {
		t.Fatalf("expected exactly the pending final, got %+v", events)
	}
	if !events[0].IsFinal || events[0].Text != "pending words" || events[0].Err != nil {
		t.Errorf("unexpected event %+v", events[0])
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.audioAtCloseSend != 2 {
		t.Errorf("expected both chunks sent before CloseSend, got %d", stream.audioAtCloseSend)
	}
	if len(stream.audio) != 2 {
		t.Errorf("expected no audio after CloseSend, got %v", stream.audio)
	}
}

func TestConnection_UnexpectedEOFIsTransient(t *testing.T) {
	stream := newFakeStream()
	close(stream.responses)
	_, cancel := context.WithCancel(context.Background())
	c := newConnection(stt.StreamConfig{SegmentID: "sess-1-seg-1"}, stream, cancel)
	defer c.Close()

	events := drainEvents(t, c.Events())
	if len(events) != 1 || events[0].Err == nil {
		t.Fatalf("expected one error event, got %+v", events)
	}
	if stt.Classify(events[0].Err) != stt.KindTransient {
		t.Errorf("expected transient error, got %v", events[0].Err)
	}
}
