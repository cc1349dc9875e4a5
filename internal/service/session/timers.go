package session

import "time"

// timer is a re-armable one-shot timer whose channel is nil while disarmed,
// so a select on it never fires.
type timer struct {
	t *time.Timer
}

func (t *timer) arm(d time.Duration) {
	if t.t == nil {
		t.t = time.NewTimer(d)
		return
	}
	t.t.Reset(d)
}

func (t *timer) stop() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

func (t *timer) C() <-chan time.Time {
	if t.t == nil {
		return nil
	}
	return t.t.C
}

// fired marks a one-shot timer disarmed after its value was received.
func (t *timer) fired() {
	t.t = nil
}

// ticker is a periodic timer with the same nil-channel convention.
type ticker struct {
	t *time.Ticker
}

func (t *ticker) start(d time.Duration) {
	if d <= 0 {
		return
	}
	if t.t == nil {
		t.t = time.NewTicker(d)
		return
	}
	t.t.Reset(d)
}

func (t *ticker) stop() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

func (t *ticker) C() <-chan time.Time {
	if t.t == nil {
		return nil
	}
	return t.t.C
}

// TimerSet holds every timer a session controller waits on. It is owned by
// the controller goroutine and only touched from there.
type TimerSet struct {
	flush   ticker // periodic transcript flush
	health  ticker // no-audio watchdog
	segment timer  // proactive restart before the provider's lifetime cap
	silence timer  // ends the session when no final result arrives
	grace   timer  // retires the replaced connection
	retry   timer  // backoff before the next open attempt
}

// StartActivity arms the four session timers on entering ACTIVE. The
// segment timer gets the remaining lifetime of the current connection.
func (ts *TimerSet) StartActivity(cfg Config, segment time.Duration) {
	ts.flush.start(cfg.FlushInterval)
	ts.health.start(cfg.HealthInterval)
	ts.segment.arm(segment)
	ts.silence.arm(cfg.SilenceTimeout)
}

// Stop cancels every timer.
func (ts *TimerSet) Stop() {
	ts.flush.stop()
	ts.health.stop()
	ts.segment.stop()
	ts.silence.stop()
	ts.grace.stop()
	ts.retry.stop()
}

// segmentRemaining is how long a connection opened at startedAt may still
// run before the deadline.
func segmentRemaining(deadline time.Duration, startedAt, now time.Time) time.Duration {
	if startedAt.IsZero() {
		return deadline
	}
	if rest := deadline - now.Sub(startedAt); rest > 0 {
		return rest
	}
	return 0
}
