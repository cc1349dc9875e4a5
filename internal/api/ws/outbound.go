package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/metrics"
)

// outbound is the single writer for one WebSocket. Send never blocks; interim
// transcripts are dropped once limit messages are pending, everything else is
// always queued.
type outbound struct {
	conn         *websocket.Conn
	limit        int
	writeTimeout time.Duration
	log          zerolog.Logger

	mu       sync.Mutex
	pending  []models.ClientMessage
	finished bool
	wake     chan struct{}
	done     chan struct{}
}

func newOutbound(conn *websocket.Conn, limit int, writeTimeout time.Duration, log zerolog.Logger) *outbound {
	if limit <= 0 {
		limit = 256
	}
	return &outbound{
		conn:         conn,
		limit:        limit,
		writeTimeout: writeTimeout,
		log:          log,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Send queues msg for the client.
func (o *outbound) Send(msg models.ClientMessage) {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return
	}
	if isInterim(msg) && len(o.pending) >= o.limit {
		o.mu.Unlock()
		metrics.DefaultMetrics.RecordOutboundDrop()
		return
	}
	o.pending = append(o.pending, msg)
	o.mu.Unlock()
	o.signal()
}

// finish stops accepting messages. The writer sends what is pending, then a
// normal close frame, then exits.
func (o *outbound) finish() {
	o.mu.Lock()
	o.finished = true
	o.mu.Unlock()
	o.signal()
}

func (o *outbound) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbound) run() {
	defer close(o.done)
	for {
		batch, finished := o.take()
		for _, msg := range batch {
			if err := o.write(msg); err != nil {
				o.log.Debug().Err(err).Msg("Client write failed, discarding outbound messages")
				o.discard()
				return
			}
		}
		if finished {
			o.closeNormal()
			return
		}
		if len(batch) == 0 {
			<-o.wake
		}
	}
}

func (o *outbound) take() ([]models.ClientMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := o.pending
	o.pending = nil
	return batch, o.finished && len(batch) == 0
}

func (o *outbound) discard() {
	o.mu.Lock()
	o.finished = true
	o.pending = nil
	o.mu.Unlock()
}

func (o *outbound) write(msg models.ClientMessage) error {
	if o.writeTimeout > 0 {
		_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
	}
	return o.conn.WriteJSON(msg)
}

func (o *outbound) closeNormal() {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session completed")
	if err := o.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		o.log.Debug().Err(err).Msg("Failed to send close frame")
	}
}

func isInterim(msg models.ClientMessage) bool {
	return msg.Type == models.TypeTranscript && msg.IsFinal != nil && !*msg.IsFinal
}
