package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/observability"
)

const jobTimeout = 30 * time.Second

// Pruner evicts expired profile cache entries.
type Pruner interface {
	Prune() int
	Len() int
}

// Refresher reissues the held session token.
type Refresher interface {
	RefreshSession(ctx context.Context) (*domain.Session, error)
}

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler builds an idle scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		logger: observability.OrNop(logger).Named("scheduler"),
	}
}

// SchedulePrune evicts expired cache entries every interval. A non-positive
// interval disables the job.
func (s *Scheduler) SchedulePrune(cache Pruner, interval time.Duration) error {
	if cache == nil || interval <= 0 {
		return nil
	}
	return s.every(interval, func() { s.prune(cache) })
}

// ScheduleRefresh refreshes the held session every interval.
func (s *Scheduler) ScheduleRefresh(refresher Refresher, interval time.Duration) error {
	if refresher == nil || interval <= 0 {
		return nil
	}
	return s.every(interval, func() { s.refresh(refresher) })
}

// Start runs the scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) every(interval time.Duration, job func()) error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), job); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	return nil
}

func (s *Scheduler) prune(cache Pruner) {
	if removed := cache.Prune(); removed > 0 {
		s.logger.Info("pruned profile cache", zap.Int("removed", removed), zap.Int("remaining", cache.Len()))
	}
}

func (s *Scheduler) refresh(refresher Refresher) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	sess, err := refresher.RefreshSession(ctx)
	switch {
	case errors.Is(err, domain.ErrNoSession):
	case err != nil:
		s.logger.Warn("session refresh failed", zap.Error(err))
	default:
		s.logger.Debug("session refreshed", zap.String("user_id", sess.UserID()), zap.Time("expires_at", sess.ExpiresAt))
	}
}
