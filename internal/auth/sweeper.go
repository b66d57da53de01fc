package auth

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Deleter removes expired credentials.
type Deleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically deletes expired tokens.
type Sweeper struct {
	tokens   Deleter
	interval time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
}

func NewSweeper(tokens Deleter, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		tokens:   tokens,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// Run sweeps once immediately and then every interval.
// Returns when context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("token sweeper started", zap.Duration("interval", s.interval))

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("token sweeper stopping")
			return
		case <-ticker.Chan():
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.tokens.DeleteExpired(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("token sweep failed", zap.Error(err))
	}
}
