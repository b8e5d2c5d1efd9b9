package backup

import (
	"context"
	"log/slog"
	"time"

	"github.com/BadgerOps/rollcall/internal/store"
	"github.com/BadgerOps/rollcall/internal/tables"
)

// PeriodResetEngine wipes transactional history after storing a full
// safety backup. Core and Config tables are never written.
type PeriodResetEngine struct {
	registry  *tables.Registry
	collector *Collector
	packager  *Packager
	artifacts *ArtifactStore
	writer    RowWriter
	logger    *slog.Logger
	now       func() time.Time
}

// NewPeriodResetEngine creates a reset engine.
func NewPeriodResetEngine(registry *tables.Registry, collector *Collector, packager *Packager,
	artifacts *ArtifactStore, writer RowWriter, logger *slog.Logger) *PeriodResetEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeriodResetEngine{
		registry:  registry,
		collector: collector,
		packager:  packager,
		artifacts: artifacts,
		writer:    writer,
		logger:    logger,
		now:       time.Now,
	}
}

// SafetyTables lists the tables a safety backup must cover.
func (e *PeriodResetEngine) SafetyTables() []string {
	return e.registry.ByCategory(tables.Transactional, tables.Core, tables.Config)
}

// Reset runs, in order: confirmation check, full structured safety backup
// (aborting with FatalSetupError unless every table was captured and
// stored), deletion of transactional tables, and zeroing of balance
// tables. Deletions already made are not rolled back if a later table
// fails.
func (e *PeriodResetEngine) Reset(ctx context.Context, req ResetRequest) (*ResetReport, error) {
	if req.Confirmation != ResetConfirmation {
		return nil, invalid("confirm", "period reset requires the confirmation phrase %q", ResetConfirmation)
	}
	start := e.now()

	entry, err := e.safetyBackup(ctx, req.RequestedBy)
	if err != nil {
		e.logger.Error("period reset aborted", "error", err)
		return nil, err
	}
	e.logger.Info("safety backup stored", "id", entry.ID, "file", entry.FileName)

	report := &ResetReport{SafetyBackupID: entry.ID, SafetyBackup: entry}
	for _, name := range e.registry.DeleteOrder(e.registry.ByCategory(tables.Transactional)) {
		report.Tables = append(report.Tables, e.resetTable(ctx, name))
	}
	report.Duration = e.now().Sub(start)

	e.logger.Info("period reset finished",
		"safety_backup", entry.ID,
		"tables", len(report.Tables),
		"failed", len(report.Failed()),
		"duration", report.Duration)
	return report, nil
}

func (e *PeriodResetEngine) safetyBackup(ctx context.Context, createdBy string) (*store.CatalogEntry, error) {
	req := SnapshotRequest{
		Tables:      e.SafetyTables(),
		AllTime:     true,
		TriggeredBy: Manual,
	}
	result, err := e.collector.Collect(ctx, req)
	if err != nil {
		return nil, &FatalSetupError{Step: "safety backup", Err: err}
	}
	if failed := result.Failures(); len(failed) > 0 {
		return nil, &FatalSetupError{Step: "safety backup", Err: joinTableErrors(failed)}
	}

	at := e.now()
	art, err := e.packager.Pack(result, Structured, SafetyPrefix, at)
	if err != nil {
		return nil, &FatalSetupError{Step: "safety backup", Err: err}
	}
	entry, err := e.artifacts.Save(ctx, art, SaveMetadata{
		Tables:    art.Tables,
		CreatedBy: createdBy,
	})
	if err != nil {
		return nil, &FatalSetupError{Step: "safety backup", Err: err}
	}
	return entry, nil
}

func (e *PeriodResetEngine) resetTable(ctx context.Context, name string) TableReset {
	out := TableReset{Table: name}
	if err := ctx.Err(); err != nil {
		out.Err = &TableError{Table: name, Op: OpDelete, Err: err}
		return out
	}

	d, _ := e.registry.Get(name)
	if d.IsBalance() {
		n, err := e.writer.ZeroColumns(ctx, name, d.BalanceFields)
		if err != nil {
			out.Err = &TableError{Table: name, Op: OpZero, Err: err}
			e.logger.Warn("zeroing balances failed", "table", name, "error", err)
			return out
		}
		out.Zeroed = n
		return out
	}

	n, err := e.writer.DeleteAllRows(ctx, name)
	if err != nil {
		out.Err = &TableError{Table: name, Op: OpDelete, Err: err}
		e.logger.Warn("clearing table failed", "table", name, "error", err)
		return out
	}
	out.Deleted = n
	return out
}
