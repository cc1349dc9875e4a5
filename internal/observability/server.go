// Package observability serves the metrics and health endpoints and
// instruments the gRPC server.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Readiness describes whether the service accepts new sessions.
type Readiness struct {
	Ready          bool   `json:"ready"`
	Draining       bool   `json:"draining"`
	ActiveSessions int    `json:"activeSessions"`
	Reason         string `json:"reason,omitempty"`
}

// SessionStatus is what the session layer exposes to the health endpoints.
type SessionStatus interface {
	ActiveSessions() int
	Readiness(ctx context.Context) Readiness
}

// Server serves /metrics, /healthz and /readyz on the metrics port.
type Server struct {
	server *http.Server
	addr   string
}

// NewServer creates the observability HTTP server. A nil status reports
// ready with no sessions.
func NewServer(addr string, status SessionStatus) *Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	// Liveness never touches the store; a draining process is still alive.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		active := 0
		if status != nil {
			active = status.ActiveSessions()
		}
		writeStatus(w, http.StatusOK, map[string]any{"status": "ok", "activeSessions": active})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		rd := Readiness{Ready: true}
		if status != nil {
			rd = status.Readiness(r.Context())
		}
		code := http.StatusOK
		if !rd.Ready {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, rd)
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func writeStatus(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.addr).Msg("Starting observability HTTP server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Observability HTTP server error")
		}
	}()
}

// Shutdown stops accepting scrapes and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down observability HTTP server")
	return s.server.Shutdown(ctx)
}
