// Package scheduler drives periodic scheduled backups.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BadgerOps/rollcall/internal/backup"
)

// Runner performs one scheduled backup. *backup.Service satisfies it.
type Runner interface {
	TriggerScheduledBackup(ctx context.Context, period backup.Period, retention int) (*backup.ScheduledRun, error)
}

// Scheduler runs a scheduled backup every interval.
type Scheduler struct {
	runner    Runner
	period    backup.Period
	retention int
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a scheduler. It does not start until Run is called.
func New(runner Runner, period backup.Period, retention int, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("schedule interval must be positive")
	}
	if _, err := backup.ParsePeriod(string(period)); err != nil {
		return nil, err
	}
	if retention < 1 {
		return nil, errors.New("schedule retention must be at least 1")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:    runner,
		period:    period,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}, nil
}

// Run blocks until ctx is cancelled, triggering a backup once per
// interval. Failed runs are logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "period", s.period, "interval", s.interval, "retention", s.retention)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce triggers a single scheduled backup and logs its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) *backup.ScheduledRun {
	run, err := s.runner.TriggerScheduledBackup(ctx, s.period, s.retention)
	if err != nil {
		s.logger.Error("scheduled backup failed", "period", s.period, "error", err)
		return nil
	}

	attrs := []any{
		"id", run.Entry.ID,
		"file", run.Entry.FileName,
		"size", run.Entry.FileSizeBytes,
		"dropped", len(run.Dropped),
	}
	if run.Retention != nil {
		attrs = append(attrs, "rotated", run.Retention.Removed)
	}
	if len(run.Dropped) > 0 {
		s.logger.Warn("scheduled backup stored with missing tables", attrs...)
	} else {
		s.logger.Info("scheduled backup stored", attrs...)
	}
	return run
}
