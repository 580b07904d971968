package service

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultMaintenanceSchedule = "@every 15m"

type tokenPurger interface {
	PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
	PurgeExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// TokenCleanupJob clears expired password-reset and refresh tokens.
type TokenCleanupJob struct {
	purger  tokenPurger
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewTokenCleanupJob constructs a TokenCleanupJob.
func NewTokenCleanupJob(purger tokenPurger, logger *zap.Logger) *TokenCleanupJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCleanupJob{
		purger:  purger,
		timeout: 30 * time.Second,
		now:     time.Now,
		logger:  logger,
	}
}

// Run implements cron.Job.
func (j *TokenCleanupJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_ = j.RunContext(ctx)
}

// RunContext performs one cleanup pass. Both purges are attempted even when
// the first fails.
func (j *TokenCleanupJob) RunContext(ctx context.Context) error {
	now := j.now().UTC()

	resets, resetErr := j.purger.PurgeExpiredResetTokens(ctx, now)
	if resetErr != nil {
		j.logger.Warn("purge expired reset tokens failed", zap.Error(resetErr))
	}
	refresh, refreshErr := j.purger.PurgeExpiredRefreshTokens(ctx, now)
	if refreshErr != nil {
		j.logger.Warn("purge expired refresh tokens failed", zap.Error(refreshErr))
	}

	if resets > 0 || refresh > 0 {
		j.logger.Info("expired tokens purged",
			zap.Int64("reset_tokens", resets),
			zap.Int64("refresh_tokens", refresh),
		)
	}
	return errors.Join(resetErr, refreshErr)
}

// MaintenanceService runs housekeeping jobs on a cron schedule.
type MaintenanceService struct {
	cron     *cron.Cron
	schedule string
	jobs     []cron.Job
	logger   *zap.Logger
}

// NewMaintenanceService constructs a scheduler for the given jobs.
func NewMaintenanceService(schedule string, logger *zap.Logger, jobs ...cron.Job) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = defaultMaintenanceSchedule
	}
	return &MaintenanceService{
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		schedule: schedule,
		jobs:     jobs,
		logger:   logger,
	}
}

// Start registers the jobs and starts the scheduler. An invalid schedule is
// reported before anything runs.
func (s *MaintenanceService) Start() error {
	for _, job := range s.jobs {
		if _, err := s.cron.AddJob(s.schedule, job); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Info("maintenance scheduler started",
		zap.String("schedule", s.schedule),
		zap.Int("jobs", len(s.jobs)),
	)
	return nil
}

// Stop halts the scheduler and waits for running jobs until ctx is done.
func (s *MaintenanceService) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("maintenance jobs still running at shutdown")
	}
}

// Entries reports the registered job count.
func (s *MaintenanceService) Entries() int {
	return len(s.cron.Entries())
}
