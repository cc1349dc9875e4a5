// Command transcriptviewer shows published session events in a browser.
// It consumes the final transcript and lifecycle topics and relays every
// event to the page over a WebSocket.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"speech-session-service/internal/events"
	"speech-session-service/internal/observability/logging"
)

type options struct {
	addr            string
	brokers         string
	topicTranscript string
	topicSession    string
	group           string
}

func main() {
	logging.Init(logging.Config{Level: "info", Format: "console"})
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "transcriptviewer",
		Short: "Relay session events from Kafka to a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.group == "" {
				opts.group = "transcript-viewer-" + uuid.NewString()
			}
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":8081", "HTTP listen address")
	cmd.Flags().StringVar(&opts.brokers, "brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	cmd.Flags().StringVar(&opts.topicTranscript, "topic-transcript", "session.transcript.final", "Final transcript topic")
	cmd.Flags().StringVar(&opts.topicSession, "topic-session", "session.lifecycle", "Session lifecycle topic")
	cmd.Flags().StringVar(&opts.group, "group", "", "Consumer group (random when empty)")
	return cmd
}

func run(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub()
	brokers := strings.Split(opts.brokers, ",")
	for _, topic := range []string{opts.topicTranscript, opts.topicSession} {
		go consume(ctx, h, brokers, topic, opts.group)
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
	r.Handle("/ws", h)

	srv := &http.Server{Addr: opts.addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", opts.addr).
		Strs("brokers", brokers).
		Str("group", opts.group).
		Msg("Transcript viewer started")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// viewerEvent holds the fields logged for either event type.
type viewerEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	SegmentID string `json:"segmentId"`
	Text      string `json:"text"`
	Reason    string `json:"reason"`
}

func consume(ctx context.Context, h *hub, brokers []string, topic, group string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     group,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	log.Info().Str("topic", topic).Msg("Consuming")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var ev viewerEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Skipping malformed event")
			continue
		}
		logEvent(ev)
		h.broadcast(msg.Value)
	}
}

func logEvent(ev viewerEvent) {
	e := log.Info().Str("eventType", ev.EventType).Str("sessionId", ev.SessionID)
	switch ev.EventType {
	case events.EventTranscriptFinal:
		e.Str("segmentId", ev.SegmentID).Str("text", truncate(ev.Text, 40)).Msg("Final transcript")
	case events.EventSessionCompleted:
		e.Str("reason", ev.Reason).Msg("Session completed")
	default:
		e.Msg("Event")
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

const page = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Transcripts</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.session { border-bottom: 1px solid #ccc; padding: .5em 0; }
.done { color: #777; }
</style>
</head>
<body>
<h1>Live transcripts</h1>
<div id="sessions"></div>
<script>
const sessions = {};
const root = document.getElementById("sessions");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (m) => {
  const ev = JSON.parse(m.data);
  let el = sessions[ev.sessionId];
  if (!el) {
    el = document.createElement("div");
    el.className = "session";
    el.innerHTML = "<strong></strong> <span></span>";
    el.firstChild.textContent = ev.sessionId;
    root.prepend(el);
    sessions[ev.sessionId] = el;
  }
  const text = el.querySelector("span");
  if (ev.eventType === "session.completed") {
    el.classList.add("done");
    text.textContent += " [" + ev.reason + "]";
  } else {
    text.textContent += " " + ev.text;
  }
};
</script>
</body>
</html>
`
