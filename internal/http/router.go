package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"speech-session-service/internal/api/ws"
	"speech-session-service/internal/app"
	"speech-session-service/internal/store"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		if !application.Ready(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Audio streaming
	r.Handle("/ws", ws.NewHandler(
		application.Store,
		application.Registry,
		application.NewController,
		application.Cfg.Session.OutboundQueueSize,
	))

	// Session records
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/init", func(w http.ResponseWriter, r *http.Request) {
			sess, err := application.Store.Create(r.Context())
			if err != nil {
				application.Logger.Error().Err(err).Msg("Failed to create session")
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"sessionId": sess.ID, "status": "success"})
		})

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			sess, err := application.Store.Get(r.Context(), chi.URLParam(r, "id"))
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			case err != nil:
				application.Logger.Error().Err(err).Msg("Failed to load session")
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
			default:
				writeJSON(w, http.StatusOK, sess)
			}
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
