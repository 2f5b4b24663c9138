// Package retention schedules periodic cleanup of expired project versions.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/metrics"
	"github.com/JakeFAU/modian-insight/internal/store"
)

// DefaultSchedule runs cleanup daily at 03:00 (six-field cron, seconds first).
const DefaultSchedule = "0 0 3 * * *"

// Cleaner removes versions older than the retention window.
type Cleaner interface {
	Cleanup(ctx context.Context, retentionDays int) (store.CleanupResult, error)
}

// Config wires a Scheduler.
type Config struct {
	Cleaner       Cleaner
	RetentionDays int
	Schedule      string
	Timeout       time.Duration
	BaseContext   context.Context
	Logger        *zap.Logger
}

// Scheduler triggers Cleaner.Cleanup on a cron schedule. Overlapping runs are
// skipped rather than queued.
type Scheduler struct {
	cfg    Config
	cron   *cron.Cron
	logger *zap.Logger
}

// New validates cfg and registers the cleanup job. The scheduler does not
// fire until Start is called.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Cleaner == nil {
		return nil, errors.New("retention: cleaner is required")
	}
	if cfg.RetentionDays < 1 {
		return nil, fmt.Errorf("retention: days must be >= 1, got %d", cfg.RetentionDays)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("retention")

	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	s := &Scheduler{cfg: cfg, cron: c, logger: logger}
	if _, err := c.AddFunc(cfg.Schedule, func() { _, _ = s.RunOnce(cfg.BaseContext) }); err != nil {
		return nil, fmt.Errorf("retention: parse schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins firing the schedule in the background.
func (s *Scheduler) Start() {
	s.logger.Info("retention scheduler started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Int("retention_days", s.cfg.RetentionDays),
	)
	s.cron.Start()
}

// Stop prevents further runs and waits for an in-flight run or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("retention scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled run time, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce performs one cleanup pass immediately.
func (s *Scheduler) RunOnce(ctx context.Context) (store.CleanupResult, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := s.cfg.Cleaner.Cleanup(ctx, s.cfg.RetentionDays)
	if err != nil {
		metrics.ObserveRetentionRun("error")
		s.logger.Error("retention cleanup failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return res, fmt.Errorf("retention cleanup: %w", err)
	}
	metrics.ObserveRetentionRun("success")
	s.logger.Info("retention cleanup finished",
		zap.Time("cutoff", res.Cutoff),
		zap.Int("projects_scanned", res.ProjectsScanned),
		zap.Int("projects_trimmed", res.ProjectsTrimmed),
		zap.Int("projects_removed", res.ProjectsRemoved),
		zap.Int("versions_removed", res.VersionsRemoved),
		zap.Int("failures", res.Failures),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
