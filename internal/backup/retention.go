package backup

import (
	"context"
	"fmt"
	"log/slog"
)

// RetentionManager rotates scheduler-produced artifacts. Entries whose
// file name lacks ScheduledPrefix are never touched.
type RetentionManager struct {
	artifacts *ArtifactStore
	logger    *slog.Logger
}

// NewRetentionManager creates a retention manager.
func NewRetentionManager(artifacts *ArtifactStore, logger *slog.Logger) *RetentionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionManager{artifacts: artifacts, logger: logger}
}

// Enforce keeps the newest maxEntries scheduled artifacts and discards the
// rest, oldest first. A failed discard does not stop the next one.
func (m *RetentionManager) Enforce(ctx context.Context, maxEntries int) (*RetentionReport, error) {
	if maxEntries < 1 {
		return nil, invalid("retention", "ceiling must be at least 1, got %d", maxEntries)
	}
	entries, err := m.artifacts.List(ctx, ScheduledPrefix)
	if err != nil {
		return nil, err
	}

	report := &RetentionReport{Kept: min(len(entries), maxEntries)}
	if len(entries) <= maxEntries {
		return report, nil
	}

	// Entries are newest first; walk the excess from the oldest end.
	excess := entries[maxEntries:]
	report.Targeted = len(excess)
	for i := len(excess) - 1; i >= 0; i-- {
		e := excess[i]
		if err := m.artifacts.Discard(ctx, e.ID); err != nil {
			m.logger.Warn("retention discard failed", "id", e.ID, "file", e.FileName, "error", err)
			report.Failures = append(report.Failures, fmt.Errorf("discard %s (%s): %w", e.FileName, e.ID, err))
			continue
		}
		report.Removed++
	}

	m.logger.Info("retention enforced",
		"ceiling", maxEntries,
		"targeted", report.Targeted,
		"removed", report.Removed)
	return report, nil
}
