package etl

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Passer runs one ingestion pass. *Runner implements it.
type Passer interface {
	RunOnce(ctx context.Context) (*PassResult, error)
}

// Scheduler runs a pass immediately and then once per interval until ctx is done.
type Scheduler struct {
	passer   Passer
	interval time.Duration
	logger   *zap.Logger

	// OnPass, when set, receives every completed pass.
	OnPass func(*PassResult)
}

func NewScheduler(p Passer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{passer: p, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled. A pass that fails with ErrStoreUnavailable is
// logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	iteration := 0
	for ctx.Err() == nil {
		iteration++
		s.runPass(ctx, iteration)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", zap.Int("passes", iteration))
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, iteration int) {
	result, err := s.passer.RunOnce(ctx)
	if err != nil {
		s.logger.Error("ingestion pass aborted", zap.Int("iteration", iteration), zap.Error(err))
		return
	}
	if s.OnPass != nil {
		s.OnPass(result)
	}
	s.logger.Info("next pass scheduled", zap.Int("iteration", iteration), zap.Duration("in", s.interval))
}
