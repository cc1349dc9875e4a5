package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"speech-session-service/internal/config"
	"speech-session-service/internal/events"
	"speech-session-service/internal/observability"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/service/session"
	"speech-session-service/internal/service/stt"
	"speech-session-service/internal/service/stt/deepgram"
	"speech-session-service/internal/service/stt/google"
	"speech-session-service/internal/service/stt/mock"
	"speech-session-service/internal/store"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Store     store.Store
	Provider  stt.Provider
	Publisher *events.Publisher
	Registry  *session.Registry
	Session   session.Config
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	a := &Application{
		Cfg:      cfg,
		Logger:   logging.WithComponent("application"),
		Registry: session.NewRegistry(),
		Session:  session.ConfigFrom(cfg),
	}

	a.Logger.Info().
		Str("logLevel", cfg.Observability.LogLevel).
		Str("environment", cfg.Service.Environment).
		Msg("Speech session service application created")
	return a
}

// Start opens the session store, the STT provider and the event publisher.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().Str("method", "Start").Logger()

	if a.Store == nil {
		st, err := openStore(ctx, a.Cfg.Store)
		if err != nil {
			return err
		}
		a.Store = st
	}

	if a.Provider == nil {
		p, err := NewProvider(ctx, a.Cfg.STT)
		if err != nil {
			return err
		}
		a.Provider = p
	}

	if a.Publisher == nil {
		a.Publisher = events.New(&events.Config{
			Enabled:         a.Cfg.Kafka.Enabled,
			Brokers:         a.Cfg.Kafka.Brokers,
			TopicTranscript: a.Cfg.Kafka.TopicTranscript,
			TopicSession:    a.Cfg.Kafka.TopicSession,
			Principal:       a.Cfg.Kafka.Principal,
		})
	}

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("sttProvider", a.Provider.Name()).
		Bool("kafkaEnabled", a.Publisher.Enabled()).
		Msg("Speech session service starting")
	return nil
}

// NewController builds a session controller wired to the application's
// provider, store and publisher.
func (a *Application) NewController(sessionID string, sink session.Sink) *session.Controller {
	deps := session.Deps{
		Provider: a.Provider,
		Store:    a.Store,
		Sink:     sink,
	}
	if a.Publisher != nil {
		deps.Publisher = a.Publisher
	}
	return session.New(sessionID, a.Session, deps)
}

// ActiveSessions is the number of sessions with a running controller.
func (a *Application) ActiveSessions() int {
	return a.Registry.Len()
}

// Readiness reports whether new sessions are accepted, and if not, why.
func (a *Application) Readiness(ctx context.Context) observability.Readiness {
	rd := observability.Readiness{
		Draining:       a.Registry.Draining(),
		ActiveSessions: a.Registry.Len(),
	}
	switch {
	case rd.Draining:
		rd.Reason = "draining"
	case a.Store == nil:
		rd.Reason = "store unavailable"
	default:
		if p, ok := a.Store.(interface{ Ping(context.Context) error }); ok {
			if err := p.Ping(ctx); err != nil {
				rd.Reason = "store unavailable"
				break
			}
		}
		rd.Ready = true
	}
	return rd
}

// Ready reports whether new sessions are accepted.
func (a *Application) Ready(ctx context.Context) bool {
	return a.Readiness(ctx).Ready
}

// Shutdown closes every live session, then releases the provider, the
// publisher and the store.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().Str("method", "Shutdown").Logger()
	shutdownLogger.Info().Int("activeSessions", a.Registry.Len()).Msg("Speech session service shutting down")

	if err := a.Registry.Shutdown(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Sessions did not close cleanly")
	}
	if c, ok := a.Provider.(io.Closer); ok {
		if err := c.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Failed to close STT provider")
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Failed to close event publisher")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Failed to close session store")
		}
	}
}

// NewProvider selects the STT provider named in cfg.
func NewProvider(ctx context.Context, cfg config.STTConfig) (stt.Provider, error) {
	switch cfg.Provider {
	case "google":
		p, err := google.New(ctx, cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "deepgram":
		return deepgram.New(cfg.DeepgramAPIKey, cfg.DeepgramModel), nil
	case "mock", "":
		return mock.New(nil, 0), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		st, err := store.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
