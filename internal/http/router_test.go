package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"speech-session-service/internal/app"
	"speech-session-service/internal/config"
	"speech-session-service/internal/models"
	"speech-session-service/internal/service/stt/mock"
)

func newTestApp(t *testing.T) *app.Application {
	t.Helper()

	cfg := config.Load()
	cfg.STT.Provider = "mock"
	cfg.Store.DSN = "file:" + filepath.Join(t.TempDir(), "sessions.db")

	application := app.New(cfg)
	application.Provider = mock.New(nil, 0)
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		application.Shutdown(ctx)
	})
	return application
}

func TestHealthEndpoints(t *testing.T) {
	application := newTestApp(t)
	router := NewRouter(application)

	tests := []struct {
		path     string
		expected string
	}{
		{"/v1/liveness", "ok"},
		{"/v1/readiness", "ready"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tt.path, rec.Code)
		}
		if rec.Body.String() != tt.expected {
			t.Errorf("%s: expected %q, got %q", tt.path, tt.expected, rec.Body.String())
		}
	}
}

func TestReadiness_Draining(t *testing.T) {
	application := newTestApp(t)
	router := NewRouter(application)

	if err := application.Registry.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while draining, got %d", rec.Code)
	}
}

func TestSessionInitAndGet(t *testing.T) {
	application := newTestApp(t)
	router := NewRouter(application)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions/init", bytes.NewReader(nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created["status"] != "success" || created["sessionId"] == "" {
		t.Fatalf("unexpected init response: %v", created)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+created["sessionId"], nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var sess models.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.ID != created["sessionId"] || sess.Status != models.StatusPending {
		t.Errorf("unexpected session: %+v", sess)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestWebSocketSessionLifecycle(t *testing.T) {
	application := newTestApp(t)
	srv := httptest.NewServer(NewRouter(application))
	defer srv.Close()

	sess, err := application.Store.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?sessionId=" + sess.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	// Enough audio for the first scripted utterance to finish.
	chunks := (len(mock.DefaultUtterances[0].Partials) + 1) * mock.DefaultChunksPerStep
	for i := 0; i < chunks; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg models.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == models.TypeTranscript && *msg.IsFinal {
			if msg.Text != mock.DefaultUtterances[0].Final {
				t.Errorf("expected first scripted final, got %q", msg.Text)
			}
			break
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := application.Store.Get(context.Background(), sess.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == models.StatusCompleted {
			if got.TranscribedText != mock.DefaultUtterances[0].Final {
				t.Errorf("expected stored transcript %q, got %q", mock.DefaultUtterances[0].Final, got.TranscribedText)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session was not completed after disconnect")
}
