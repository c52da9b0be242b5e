package worker

import (
	"context"
	"fmt"
	"time"

	"redemption-engine/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepStore is the slice of the store the sweeper needs.
type SweepStore interface {
	ExpirePending(ctx context.Context) (int64, error)
	PruneProcessedEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Sweeper periodically neutralizes state past its deadline: live sessions
// past expires_at flip to EXPIRED, and stale idempotency markers are
// pruned. Every step is a single conditional statement, so overlapping runs
// and multiple instances are safe.
type Sweeper struct {
	store     SweepStore
	cron      *cron.Cron
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
}

// NewSweeper creates a new expiry sweeper
func NewSweeper(store SweepStore, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		cron:      cron.New(),
		interval:  interval,
		retention: retention,
		logger:    util.GetLogger(),
	}
}

// Start schedules the sweep and runs it until Stop.
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}
	s.cron.Start()
	s.logger.Info("Expiry sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Expiry sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	expired, err := s.store.ExpirePending(ctx)
	if err != nil {
		s.logger.Error("Failed to expire sessions", zap.Error(err))
	} else if expired > 0 {
		util.SessionsExpiredTotal.Add(float64(expired))
		s.logger.Info("Sessions expired", zap.Int64("count", expired))
	}

	pruned, err := s.store.PruneProcessedEvents(ctx, s.retention)
	if err != nil {
		s.logger.Error("Failed to prune processed events", zap.Error(err))
	} else if pruned > 0 {
		s.logger.Debug("Processed events pruned", zap.Int64("count", pruned))
	}
}
