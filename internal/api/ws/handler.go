// Package ws serves the client-facing WebSocket: binary frames carry PCM
// audio, text frames carry JSON control frames, and the server replies with
// JSON transcript, session_complete and error messages.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/service/session"
	"speech-session-service/internal/store"
)

const (
	defaultWriteTimeout = 10 * time.Second
	maxMessageSize      = 1 << 20
)

// SessionLookup resolves session records before upgrading.
type SessionLookup interface {
	Get(ctx context.Context, id string) (*models.Session, error)
}

// ControllerFactory builds the controller for one connection. sink receives
// every message the controller sends to the client.
type ControllerFactory func(sessionID string, sink session.Sink) *session.Controller

// Handler upgrades /ws requests and runs one session controller per
// connection.
type Handler struct {
	sessions      SessionLookup
	registry      *session.Registry
	newController ControllerFactory
	queueSize     int
	writeTimeout  time.Duration
	upgrader      websocket.Upgrader
	log           zerolog.Logger
}

// NewHandler creates the WebSocket handler. queueSize bounds pending
// outbound messages per connection.
func NewHandler(sessions SessionLookup, registry *session.Registry, factory ControllerFactory, queueSize int) *Handler {
	return &Handler{
		sessions:      sessions,
		registry:      registry,
		newController: factory,
		queueSize:     queueSize,
		writeTimeout:  defaultWriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logging.WithComponent("ws"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.reject(w, http.StatusBadRequest, "missing_session_id", "Missing sessionId parameter")
		return
	}
	if h.registry.Draining() {
		h.reject(w, http.StatusServiceUnavailable, "shutting_down", "Server is shutting down")
		return
	}

	rec, err := h.sessions.Get(r.Context(), sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.reject(w, http.StatusNotFound, "unknown_session", "Session not found")
		return
	case err != nil:
		h.log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to load session")
		h.reject(w, http.StatusInternalServerError, "store_error", "Failed to load session")
		return
	case rec.Status == models.StatusCompleted:
		h.reject(w, http.StatusConflict, "session_completed", "Session already completed")
		return
	}
	if _, ok := h.registry.Get(sessionID); ok {
		h.reject(w, http.StatusConflict, "session_active", "Session already has an active connection")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("sessionId", sessionID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	log := logging.WithSession(sessionID)
	out := newOutbound(conn, h.queueSize, h.writeTimeout, log)
	ctrl := h.newController(sessionID, out)

	if err := h.registry.Attach(ctrl); err != nil {
		metrics.DefaultMetrics.RecordSessionRejected("session_active")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return
	}
	defer h.registry.Detach(ctrl)

	log.Info().Str("remoteAddr", r.RemoteAddr).Msg("Client connected")

	go out.run()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readLoop(conn, ctrl, log)
	}()

	result := make(chan session.Result, 1)
	go func() { result <- ctrl.Run(context.WithoutCancel(r.Context())) }()

	select {
	case <-readDone:
		ctrl.Close(models.ReasonClientRequested)
	case <-ctrl.Done():
	}
	res := <-result

	out.finish()
	select {
	case <-out.done:
	case <-time.After(h.writeTimeout):
		log.Warn().Msg("Timed out flushing outbound messages")
	}
	conn.Close()
	<-readDone

	log.Info().Str("reason", res.Reason).Msg("Client connection closed")
}

// readLoop routes inbound frames to ctrl until the socket fails or closes.
func (h *Handler) readLoop(conn *websocket.Conn, ctrl *session.Controller, log zerolog.Logger) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("WebSocket closed unexpectedly")
			}
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			ctrl.HandleAudio(data)
		case websocket.TextMessage:
			var frame models.ControlFrame
			if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
				log.Debug().Int("bytes", len(data)).Msg("Ignoring malformed control frame")
				continue
			}
			ctrl.HandleControl(frame.Type)
		}
	}
}

func (h *Handler) reject(w http.ResponseWriter, status int, reason, message string) {
	metrics.DefaultMetrics.RecordSessionRejected(reason)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
