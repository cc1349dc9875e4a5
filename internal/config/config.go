// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Session       SessionConfig
	Store         StoreConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal   string
	Environment string
	HTTPPort    string
	GRPCPort    string
	MetricsPort string
}

// STTConfig selects and configures the speech-to-text provider.
type STTConfig struct {
	Provider                 string // google, deepgram, mock
	LanguageCode             string
	AlternativeLanguageCodes []string
	SampleRateHz             int
	InterimResults           bool
	AudioEncoding            string
	Model                    string
	EnablePunctuation        bool
	EnableDiarization        bool
	MinSpeakerCount          int
	MaxSpeakerCount          int
	SendQueueSize            int

	// GOOGLE_APPLICATION_CREDENTIALS_JSON; when empty the Google client
	// falls back to application default credentials.
	GoogleCredentialsJSON string

	DeepgramAPIKey string
	DeepgramModel  string
}

// SessionConfig holds the per-session timer and restart budget.
type SessionConfig struct {
	BridgeDuration     time.Duration
	FlushInterval      time.Duration
	SegmentDeadline    time.Duration
	SilenceTimeout     time.Duration
	HealthInterval     time.Duration
	HealthThreshold    time.Duration
	RestartGrace       time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	MaxRestartAttempts int
	FinalFlushTimeout  time.Duration
	OutboundQueueSize  int
}

// StoreConfig configures the durable session store.
type StoreConfig struct {
	Driver string
	DSN    string
}

// KafkaConfig configures the transcript event publisher.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicTranscript string
	TopicSession    string
	Principal       string
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment, after loading a .env
// file if one exists. Values that fail to parse fall back to their defaults.
func Load() *Config {
	_ = godotenv.Load()

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-speech-session")

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			Environment: envOrDefault("ENV", "prod"),
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		STT: STTConfig{
			Provider:                 envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:             envOrDefault("STT_LANGUAGE_CODE", "ar-SA"),
			AlternativeLanguageCodes: envOrDefaultList("STT_ALTERNATIVE_LANGUAGE_CODES", []string{"ar-AE", "ar-EG"}),
			SampleRateHz:             envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults:           envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:            envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			Model:                    envOrDefault("STT_MODEL", "default"),
			EnablePunctuation:        envOrDefaultBool("STT_ENABLE_PUNCTUATION", true),
			EnableDiarization:        envOrDefaultBool("STT_ENABLE_DIARIZATION", true),
			MinSpeakerCount:          envOrDefaultInt("STT_MIN_SPEAKER_COUNT", 2),
			MaxSpeakerCount:          envOrDefaultInt("STT_MAX_SPEAKER_COUNT", 4),
			SendQueueSize:            envOrDefaultInt("STT_SEND_QUEUE_SIZE", 64),
			GoogleCredentialsJSON:    os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"),
			DeepgramAPIKey:           os.Getenv("DEEPGRAM_API_KEY"),
			DeepgramModel:            envOrDefault("DEEPGRAM_MODEL", "nova-2"),
		},
		Session: SessionConfig{
			BridgeDuration:     envOrDefaultDuration("SESSION_BRIDGE_DURATION", 3*time.Second),
			FlushInterval:      envOrDefaultDuration("SESSION_FLUSH_INTERVAL", 30*time.Second),
			SegmentDeadline:    envOrDefaultDuration("SESSION_SEGMENT_DEADLINE", 4*time.Minute),
			SilenceTimeout:     envOrDefaultDuration("SESSION_SILENCE_TIMEOUT", 5*time.Minute),
			HealthInterval:     envOrDefaultDuration("SESSION_HEALTH_INTERVAL", 15*time.Second),
			HealthThreshold:    envOrDefaultDuration("SESSION_HEALTH_THRESHOLD", 45*time.Second),
			RestartGrace:       envOrDefaultDuration("SESSION_RESTART_GRACE", 1500*time.Millisecond),
			BackoffInitial:     envOrDefaultDuration("SESSION_BACKOFF_INITIAL", 500*time.Millisecond),
			BackoffMax:         envOrDefaultDuration("SESSION_BACKOFF_MAX", 10*time.Second),
			MaxRestartAttempts: envOrDefaultInt("SESSION_MAX_RESTART_ATTEMPTS", 8),
			FinalFlushTimeout:  envOrDefaultDuration("SESSION_FINAL_FLUSH_TIMEOUT", 10*time.Second),
			OutboundQueueSize:  envOrDefaultInt("SESSION_OUTBOUND_QUEUE_SIZE", 256),
		},
		Store: StoreConfig{
			Driver: envOrDefault("STORE_DRIVER", "sqlite"),
			DSN:    envOrDefault("STORE_DSN", "file:sessions.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", nil),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "session.transcript.final"),
			TopicSession:    envOrDefault("KAFKA_TOPIC_SESSION", "session.lifecycle"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
