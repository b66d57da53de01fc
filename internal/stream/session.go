package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/catalog-stream/internal/config"
	"github.com/dgnsrekt/catalog-stream/internal/metrics"
	"github.com/dgnsrekt/catalog-stream/internal/store"
)

// State is a session lifecycle phase.
type State int

const (
	StateConnecting State = iota
	StateStreaming
	StateWarningCountdown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateWarningCountdown:
		return "warning_countdown"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Close reasons recorded when a session reaches StateClosed.
const (
	ReasonTimeout    = "timeout"
	ReasonDisconnect = "disconnect"
	ReasonError      = "error"
)

// SessionConfig holds the lifetime policy of a session.
type SessionConfig struct {
	MaxLifetime   time.Duration
	WarningAfter  time.Duration
	Countdown     int
	CountdownTick time.Duration
	PollTimeout   time.Duration
}

// SessionConfigFrom maps the stream configuration section.
func SessionConfigFrom(cfg *config.StreamConfig) SessionConfig {
	return SessionConfig{
		MaxLifetime:   cfg.MaxLifetime,
		WarningAfter:  cfg.WarningAfter,
		Countdown:     cfg.Countdown,
		CountdownTick: cfg.CountdownTick,
		PollTimeout:   cfg.PollTimeout,
	}
}

// Session streams one kind to one client until its lifetime ends, the
// client goes away, or an unrecoverable error occurs.
type Session struct {
	kind     store.Kind
	registry *Registry
	source   Snapshotter
	out      io.Writer
	cfg      SessionConfig
	clock    clockwork.Clock
	logger   *zap.Logger

	id          string
	queue       <-chan store.Snapshot
	state       State
	reason      string
	start       time.Time
	warningSent bool
	remaining   int
}

// NewSession prepares a session writing SSE frames to out. Nothing is
// registered or written until Run.
func NewSession(kind store.Kind, registry *Registry, source Snapshotter, out io.Writer, cfg SessionConfig, clock clockwork.Clock, logger *zap.Logger) *Session {
	return &Session{
		kind:     kind,
		registry: registry,
		source:   source,
		out:      out,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		state:    StateConnecting,
	}
}

// ID returns the registry id. It is empty before Run.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return s.state
}

// Reason returns why the session closed.
func (s *Session) Reason() string {
	return s.reason
}

// Run drives the session to StateClosed. It always unsubscribes from the
// registry before returning.
func (s *Session) Run(ctx context.Context) {
	s.id, s.queue = s.registry.Subscribe(s.kind)
	s.logger = s.logger.With(
		zap.String("kind", s.kind.String()),
		zap.String("session_id", s.id),
	)

	event := s.kind.Event()
	metrics.ActiveSessions.WithLabelValues(event).Inc()

	defer func() {
		s.registry.Unsubscribe(s.kind, s.id)
		metrics.ActiveSessions.WithLabelValues(event).Dec()
		metrics.SessionsClosed.WithLabelValues(event, s.reason).Inc()
		s.logger.Info("stream session closed",
			zap.String("reason", s.reason),
			zap.Duration("duration", s.elapsed()),
		)
	}()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stream session panicked", zap.Any("panic", r), zap.Stack("stack"))
			if ctx.Err() == nil {
				_ = s.write(EventError, MessagePayload{Message: "Internal server error"})
			}
			s.closeWith(ReasonError)
		}
	}()

	s.logger.Info("stream session started")
	s.connect(ctx)

	for s.state != StateClosed {
		if ctx.Err() != nil {
			s.closeWith(ReasonDisconnect)
			break
		}
		switch s.state {
		case StateStreaming:
			s.stream(ctx)
		case StateWarningCountdown:
			s.countdown(ctx)
		default:
			s.closeWith(ReasonError)
		}
	}
}

// connect announces the stream and sends the current collection directly
// from the source.
func (s *Session) connect(ctx context.Context) {
	event := s.kind.Event()
	if !s.emit(ctx, EventConnected, connectedMessage(event)) {
		return
	}

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.closeWith(ReasonDisconnect)
			return
		}
		s.logger.Error("initial snapshot fetch failed, sending empty collection", zap.Error(err))
		snap = store.EmptySnapshot(s.kind, s.clock.Now())
	}
	if !s.deliver(ctx, snap) {
		return
	}

	s.start = s.clock.Now()
	s.state = StateStreaming
}

func (s *Session) stream(ctx context.Context) {
	elapsed := s.elapsed()
	if elapsed >= s.cfg.MaxLifetime {
		msg := fmt.Sprintf("Connection closed after %d seconds", int(s.cfg.MaxLifetime.Seconds()))
		if s.emit(ctx, EventClose, MessagePayload{Message: msg}) {
			s.closeWith(ReasonTimeout)
		}
		return
	}
	if elapsed >= s.cfg.WarningAfter && !s.warningSent {
		s.warningSent = true
		s.remaining = s.cfg.Countdown
		s.state = StateWarningCountdown
		s.logger.Debug("entering warning countdown", zap.Int("countdown", s.remaining))
		return
	}

	timer := s.clock.NewTimer(s.cfg.PollTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.closeWith(ReasonDisconnect)
	case snap := <-s.queue:
		s.deliver(ctx, snap)
	case <-timer.Chan():
	}
}

// countdown emits one warning per tick and closes after the last one.
func (s *Session) countdown(ctx context.Context) {
	if s.remaining < 1 {
		if s.emit(ctx, EventClose, MessagePayload{Message: "Connection closed"}) {
			s.closeWith(ReasonTimeout)
		}
		return
	}

	if !s.emit(ctx, EventDisconnectWarning, warningMessage(s.remaining)) {
		return
	}
	s.remaining--

	select {
	case <-ctx.Done():
		s.closeWith(ReasonDisconnect)
	case <-s.clock.After(s.cfg.CountdownTick):
	}
}

// deliver sends a snapshot as a resource event. A payload that cannot be
// encoded is reported to the client and the session carries on.
func (s *Session) deliver(ctx context.Context, snap store.Snapshot) bool {
	frame, err := EncodeEvent(s.kind.Event(), snap.Records)
	if err != nil {
		s.logger.Error("encoding snapshot failed", zap.Int("records", snap.Count), zap.Error(err))
		return s.emit(ctx, EventError, MessagePayload{Message: "Failed to encode " + s.kind.Event() + " update"})
	}
	return s.send(ctx, s.kind.Event(), frame)
}

// emit encodes and writes a control event. It returns false once the
// session has closed.
func (s *Session) emit(ctx context.Context, name string, payload any) bool {
	frame, err := EncodeEvent(name, payload)
	if err != nil {
		s.logger.Error("encoding event failed", zap.String("event", name), zap.Error(err))
		s.closeWith(ReasonError)
		return false
	}
	return s.send(ctx, name, frame)
}

func (s *Session) send(ctx context.Context, name string, frame []byte) bool {
	if _, err := s.out.Write(frame); err != nil {
		if ctx.Err() != nil || isDisconnect(err) {
			s.closeWith(ReasonDisconnect)
			return false
		}
		s.logger.Warn("writing event failed", zap.String("event", name), zap.Error(err))
		s.closeWith(ReasonError)
		return false
	}
	metrics.EventsSent.WithLabelValues(s.kind.Event(), name).Inc()
	return true
}

// write is the best-effort path used while recovering from a panic.
func (s *Session) write(name string, payload any) error {
	frame, err := EncodeEvent(name, payload)
	if err != nil {
		return err
	}
	_, err = s.out.Write(frame)
	return err
}

func (s *Session) closeWith(reason string) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.reason = reason
}

func (s *Session) elapsed() time.Duration {
	if s.start.IsZero() {
		return 0
	}
	return s.clock.Since(s.start)
}

func isDisconnect(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe)
}
