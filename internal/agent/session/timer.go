package session

import (
	"context"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"github.com/google/uuid"
)

// Reporter delivers an elapsed-seconds report. *agentsdk.Client
// satisfies this.
type Reporter interface {
	Heartbeat(ctx context.Context, id uuid.UUID, domain string, seconds float64) error
}

// Timer measures active time on one matched domain and periodically
// reports it. The measurement clock only resets after a successful
// report, so a failed report keeps accumulating instead of losing the
// interval. Stop flushes the partial interval with one final report.
type Timer struct {
	reporter Reporter
	userID   uuid.UUID
	domain   string
	clock    quartz.Clock
	log      slog.Logger
	interval time.Duration

	markedAt time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewTimer creates a session Timer for one domain.
func NewTimer(reporter Reporter, userID uuid.UUID, domain string, interval time.Duration, clock quartz.Clock, log slog.Logger) *Timer {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Timer{
		reporter: reporter,
		userID:   userID,
		domain:   domain,
		clock:    clock,
		log:      log.Named("session"),
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the measurement clock and the reporting loop.
func (t *Timer) Start(ctx context.Context) {
	t.markedAt = t.clock.Now()

	ticker := t.clock.NewTicker(t.interval, "session", t.domain)
	go func() {
		defer close(t.doneChan)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.report(ctx)
			case <-t.stopChan:
				// Final flush so partial intervals are not dropped.
				t.report(ctx)
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	t.log.Debug(ctx, "session timer started",
		slog.F("domain", t.domain),
		slog.F("interval", t.interval),
	)
}

// Stop flushes the accumulated time with one final report and stops the
// loop. Called on navigation away or focus loss.
func (t *Timer) Stop() {
	close(t.stopChan)
	<-t.doneChan
}

// report sends elapsed seconds since the last successful report; only
// success moves the mark forward.
func (t *Timer) report(ctx context.Context) {
	now := t.clock.Now()
	seconds := now.Sub(t.markedAt).Seconds()
	if seconds <= 0 {
		return
	}

	if err := t.reporter.Heartbeat(ctx, t.userID, t.domain, seconds); err != nil {
		t.log.Debug(ctx, "heartbeat failed, keeping accumulated time",
			slog.F("domain", t.domain),
			slog.F("seconds", seconds),
			slog.Error(err),
		)
		return
	}
	t.markedAt = now
}
