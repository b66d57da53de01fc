package notify

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// flushInterval is how often a pending suppressed count is retried.
	flushInterval        = time.Minute
	shutdownFlushTimeout = 5 * time.Second
	notificationTitle    = "System notification"
)

// DropEvent describes a snapshot discarded for one subscriber.
type DropEvent struct {
	Kind      string
	SessionID string
	At        time.Time
}

// DropReporter forwards delivery failures to a Notifier without blocking
// the caller. Events beyond the rate limit, and events that did not fit in
// the queue, are counted. The count rides along with the next notification,
// or goes out as a summary on the flush timer and at shutdown.
type DropReporter struct {
	notifier Notifier
	limiter  *rate.Limiter
	clock    clockwork.Clock
	events   chan DropEvent
	logger   *zap.Logger

	discarded  atomic.Int64
	suppressed int // owned by Run
}

// NewDropReporter allows at most perMinute notifications per minute.
func NewDropReporter(notifier Notifier, perMinute int, clock clockwork.Clock, logger *zap.Logger) *DropReporter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &DropReporter{
		notifier: notifier,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		clock:    clock,
		events:   make(chan DropEvent, 64),
		logger:   logger,
	}
}

// Report queues ev. It never blocks; when the queue is full the event is
// only counted.
func (r *DropReporter) Report(ev DropEvent) {
	select {
	case r.events <- ev:
	default:
		r.discarded.Add(1)
	}
}

// Run delivers queued events until ctx is cancelled, then reports whatever
// is still pending.
func (r *DropReporter) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown(ctx)
			return
		default:
		}

		select {
		case <-ctx.Done():
			r.shutdown(ctx)
			return
		case ev := <-r.events:
			r.handle(ctx, ev)
		case <-ticker.Chan():
			r.flush(ctx, false)
		}
	}
}

func (r *DropReporter) handle(ctx context.Context, ev DropEvent) {
	r.collectDiscarded()

	if !r.limiter.AllowN(r.clock.Now(), 1) {
		r.suppressed++
		return
	}

	message := FormatDropMessage(ev, r.suppressed)
	r.suppressed = 0
	r.send(ctx, message)
}

// flush sends the pending suppressed count as a summary. Unless force is
// set it waits for the rate limiter like any other notification.
func (r *DropReporter) flush(ctx context.Context, force bool) {
	r.collectDiscarded()
	if r.suppressed == 0 {
		return
	}
	if !r.limiter.AllowN(r.clock.Now(), 1) && !force {
		return
	}

	message := FormatSuppressedMessage(r.suppressed)
	r.suppressed = 0
	r.send(ctx, message)
}

func (r *DropReporter) shutdown(ctx context.Context) {
drain:
	for {
		select {
		case <-r.events:
			r.suppressed++
		default:
			break drain
		}
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
	defer cancel()
	r.flush(flushCtx, true)
}

func (r *DropReporter) collectDiscarded() {
	r.suppressed += int(r.discarded.Swap(0))
}

func (r *DropReporter) send(ctx context.Context, message string) {
	if err := r.notifier.Send(ctx, notificationTitle, message, LevelError); err != nil {
		r.logger.Warn("failed to send drop notification", zap.Error(err))
	}
}

// FormatDropMessage creates a delivery-failure notification body.
func FormatDropMessage(ev DropEvent, suppressed int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Failed to deliver %s update\n", ev.Kind))
	sb.WriteString(fmt.Sprintf("- Subscriber ID: %s\n", ev.SessionID))
	sb.WriteString(fmt.Sprintf("- Time: %s", ev.At.UTC().Format(time.RFC3339)))

	if suppressed > 0 {
		sb.WriteString(fmt.Sprintf("\n\n... and %d more dropped updates since the last notification", suppressed))
	}

	return sb.String()
}

// FormatSuppressedMessage summarizes drops that never got a notification
// of their own.
func FormatSuppressedMessage(count int) string {
	return fmt.Sprintf("%d dropped updates were not reported individually", count)
}
