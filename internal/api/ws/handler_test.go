package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"speech-session-service/internal/models"
	"speech-session-service/internal/service/session"
	"speech-session-service/internal/service/stt"
	"speech-session-service/internal/service/stt/mock"
	"speech-session-service/internal/store"
)

type fakeSessions struct {
	records map[string]*models.Session
}

func (f *fakeSessions) Get(ctx context.Context, id string) (*models.Session, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

type fakeStore struct {
	mu        sync.Mutex
	appends   []string
	completes int
}

func (s *fakeStore) AppendTranscript(ctx context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends = append(s.appends, text)
	return nil
}

func (s *fakeStore) Complete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes++
	return nil
}

func (s *fakeStore) completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completes
}

type testServer struct {
	srv      *httptest.Server
	registry *session.Registry
	store    *fakeStore
}

func sessionConfig() session.Config {
	return session.Config{
		BridgeDuration:     time.Second,
		FlushInterval:      time.Hour,
		SegmentDeadline:    time.Hour,
		SilenceTimeout:     time.Hour,
		RestartGrace:       50 * time.Millisecond,
		BackoffInitial:     5 * time.Millisecond,
		BackoffMax:         20 * time.Millisecond,
		MaxRestartAttempts: 3,
		FinalFlushTimeout:  time.Second,
		Stream: stt.StreamConfig{
			LanguageCode:   "en-US",
			SampleRateHz:   16000,
			AudioEncoding:  "LINEAR16",
			InterimResults: true,
		},
	}
}

func newTestServer(t *testing.T, cfg session.Config) *testServer {
	t.Helper()

	ts := &testServer{registry: session.NewRegistry(), store: &fakeStore{}}
	sessions := &fakeSessions{records: map[string]*models.Session{
		"sess-1": {ID: "sess-1", Status: models.StatusPending},
		"done-1": {ID: "done-1", Status: models.StatusCompleted},
	}}
	provider := mock.New([]mock.Utterance{{Partials: []string{"hel"}, Final: "hello", Confidence: 0.9}}, 1)

	factory := func(id string, sink session.Sink) *session.Controller {
		return session.New(id, cfg, session.Deps{Provider: provider, Store: ts.store, Sink: sink})
	}

	ts.srv = httptest.NewServer(NewHandler(sessions, ts.registry, factory, 16))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) dial(sessionID string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	if sessionID != "" {
		url += "?sessionId=" + sessionID
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandler_RejectsBeforeUpgrade(t *testing.T) {
	ts := newTestServer(t, sessionConfig())

	tests := []struct {
		name      string
		sessionID string
		expected  int
	}{
		{"missing session id", "", http.StatusBadRequest},
		{"unknown session", "nope", http.StatusNotFound},
		{"completed session", "done-1", http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := ts.dial(tt.sessionID)
			if err == nil {
				conn.Close()
				t.Fatal("expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != tt.expected {
				t.Errorf("expected status %d, got %+v", tt.expected, resp)
			}
		})
	}

	if ts.registry.Len() != 0 {
		t.Errorf("expected no controllers, got %d", ts.registry.Len())
	}
}

func TestHandler_RejectsDuplicateConnection(t *testing.T) {
	ts := newTestServer(t, sessionConfig())

	first, _, err := ts.dial("sess-1")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer first.Close()
	waitFor(t, func() bool { return ts.registry.Len() == 1 })

	conn, resp, err := ts.dial("sess-1")
	if err == nil {
		conn.Close()
		t.Fatal("expected second connection to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %+v", resp)
	}
}

func TestHandler_StreamsTranscripts(t *testing.T) {
	ts := newTestServer(t, sessionConfig())

	conn, _, err := ts.dial("sess-1")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Malformed control frames are ignored.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got []models.ClientMessage
	for len(got) < 2 {
		var msg models.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		got = append(got, msg)
	}

	if got[0].Type != models.TypeTranscript || got[0].Text != "hel" || *got[0].IsFinal {
		t.Errorf("expected interim 'hel', got %+v", got[0])
	}
	if got[1].Type != models.TypeTranscript || got[1].Text != "hello" || !*got[1].IsFinal {
		t.Errorf("expected final 'hello', got %+v", got[1])
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))

	waitFor(t, func() bool { return ts.store.completed() == 1 })
	waitFor(t, func() bool { return ts.registry.Len() == 0 })
}

func TestHandler_ServerEndsSession(t *testing.T) {
	cfg := sessionConfig()
	cfg.SilenceTimeout = 100 * time.Millisecond
	ts := newTestServer(t, cfg)

	conn, _, err := ts.dial("sess-1")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg models.ClientMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != models.TypeSessionComplete || msg.Reason != models.ReasonSilenceTimeout {
		t.Errorf("expected session_complete with silence_timeout, got %+v", msg)
	}
	if msg.Transcript == nil || *msg.Transcript != "" {
		t.Errorf("expected empty transcript field, got %+v", msg.Transcript)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}
