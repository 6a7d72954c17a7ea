package revocation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically garbage-collects expired revocation entries.
type Sweeper struct {
	checker  *Checker
	interval time.Duration
	logger   *zap.Logger
	onSwept  func(n int64)
}

func NewSweeper(checker *Checker, interval time.Duration, logger *zap.Logger, onSwept func(n int64)) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{checker: checker, interval: interval, logger: logger, onSwept: onSwept}
}

// Run sweeps once immediately and then every interval until ctx is done.
// Sweep failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.checker.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("revocation sweep failed", zap.Error(err))
		}
		return
	}
	if s.onSwept != nil {
		s.onSwept(n)
	}
	if n > 0 {
		s.logger.Info("swept expired revocations", zap.Int64("deleted", n))
	}
}
