package session

import (
	"context"
	"errors"
	"sync"

	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/logging"
)

var (
	// ErrSessionActive is returned when a session already has a controller.
	ErrSessionActive = errors.New("session already has an active connection")

	// ErrShuttingDown is returned once the registry started draining.
	ErrShuttingDown = errors.New("server is shutting down")
)

// Registry maps session IDs to their running controller. At most one
// controller exists per session ID.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Controller
	draining bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Controller)}
}

// Attach registers c under its session ID.
func (r *Registry) Attach(c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.draining {
		return ErrShuttingDown
	}
	if _, ok := r.sessions[c.ID()]; ok {
		return ErrSessionActive
	}
	r.sessions[c.ID()] = c
	return nil
}

// Detach removes c if it is still the registered controller for its
// session. It reports whether c was removed.
func (r *Registry) Detach(c *Controller) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[c.ID()]; ok && cur == c {
		delete(r.sessions, c.ID())
		return true
	}
	return false
}

// Get returns the controller for sessionID.
func (r *Registry) Get(sessionID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[sessionID]
	return c, ok
}

// Len returns the number of attached controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Draining reports whether Shutdown has been called.
func (r *Registry) Draining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

// Shutdown stops accepting sessions, closes every attached controller and
// waits for them to finish or for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	active := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		active = append(active, c)
	}
	r.mu.Unlock()

	log := logging.WithComponent("registry")
	log.Info().Int("sessions", len(active)).Msg("Closing active sessions")

	for _, c := range active {
		c.Close(models.ReasonServerShutdown)
	}
	for _, c := range active {
		select {
		case <-c.Done():
		case <-ctx.Done():
			log.Warn().Err(ctx.Err()).Msg("Timed out waiting for sessions to close")
			return ctx.Err()
		}
	}
	return nil
}
