package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BadgerOps/rollcall/internal/metrics"
	"github.com/BadgerOps/rollcall/internal/store"
	"github.com/BadgerOps/rollcall/internal/tables"
)

// RowStore is the row store seen by the service.
type RowStore interface {
	RowReader
	RowWriter
}

// Options configures a Service.
type Options struct {
	WorkerLimit int
	Compression string
	// CreatedBy is recorded when a caller does not name itself.
	CreatedBy string
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Service is the entry point for backup, restore, retention and period
// reset operations.
type Service struct {
	registry  *tables.Registry
	collector *Collector
	packager  *Packager
	artifacts *ArtifactStore
	restorer  *RestoreEngine
	retention *RetentionManager
	resetter  *PeriodResetEngine
	metrics   *metrics.Metrics
	createdBy string
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the backup components together.
func NewService(registry *tables.Registry, rows RowStore, catalog Catalog, blobs BlobStore, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	packager, err := NewPackager(opts.Compression)
	if err != nil {
		return nil, err
	}
	createdBy := opts.CreatedBy
	if createdBy == "" {
		createdBy = "admin"
	}

	collector := NewCollector(registry, rows, opts.WorkerLimit, logger)
	artifacts := NewArtifactStore(catalog, blobs, logger)
	s := &Service{
		registry:  registry,
		collector: collector,
		packager:  packager,
		artifacts: artifacts,
		restorer:  NewRestoreEngine(registry, rows, logger),
		retention: NewRetentionManager(artifacts, logger),
		resetter:  NewPeriodResetEngine(registry, collector, packager, artifacts, rows, logger),
		metrics:   opts.Metrics,
		createdBy: createdBy,
		logger:    logger,
	}
	s.setClock(time.Now)
	return s, nil
}

func (s *Service) setClock(now func() time.Time) {
	s.now = now
	s.collector.now = now
	s.restorer.now = now
	s.resetter.now = now
}

// Tables returns the registry's descriptors in declaration order.
func (s *Service) Tables() []tables.Descriptor {
	return s.registry.All()
}

// ============================================================================
// Export
// ============================================================================

// ExportRequest describes a manual export.
type ExportRequest struct {
	DateFrom time.Time
	DateTo   time.Time
	AllTime  bool
	Tables   []string
	Format   Format
}

// CreateBackup collects and packages a manual export. It does not store
// the artifact; tables whose read failed are listed in Artifact.Dropped.
func (s *Service) CreateBackup(ctx context.Context, req ExportRequest) (*Artifact, error) {
	if req.Format != Structured && req.Format != Tabular {
		return nil, invalid("format", "unknown format %q", req.Format)
	}
	result, err := s.collector.Collect(ctx, SnapshotRequest{
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
		AllTime:     req.AllTime,
		Tables:      req.Tables,
		TriggeredBy: Manual,
	})
	if err != nil {
		return nil, err
	}
	s.countReadFailures(result)
	return s.packager.Pack(result, req.Format, ManualPrefix, s.now())
}

// SaveRequest carries uploaded artifact bytes and their metadata.
type SaveRequest struct {
	Data      []byte
	FileName  string
	Format    Format // inferred from the bytes when empty
	DateFrom  time.Time
	DateTo    time.Time
	Tables    []string
	CreatedBy string
}

// SaveBackup stores uploaded artifact bytes and catalogs them.
func (s *Service) SaveBackup(ctx context.Context, req SaveRequest) (*store.CatalogEntry, error) {
	if len(req.Data) == 0 {
		return nil, invalid("artifact", "artifact is empty")
	}
	if req.FileName == "" {
		return nil, invalid("file_name", "file name is required")
	}
	format := req.Format
	if format == "" {
		format = Structured
		if IsTabular(req.Data) {
			format = Tabular
		}
	}
	if format != Structured && format != Tabular {
		return nil, invalid("format", "unknown format %q", format)
	}
	if unknown := s.registry.Unknown(req.Tables); len(unknown) > 0 {
		return nil, invalid("tables", "unknown table(s): %s", strings.Join(unknown, ", "))
	}
	art := &Artifact{
		Format:    format,
		Name:      req.FileName,
		Data:      req.Data,
		SizeBytes: int64(len(req.Data)),
		CreatedAt: s.now().UTC(),
		Tables:    req.Tables,
	}
	return s.SaveArtifact(ctx, art, SaveMetadata{
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
		Tables:    req.Tables,
		CreatedBy: req.CreatedBy,
	})
}

// SaveArtifact stores an artifact produced by CreateBackup. Names carrying
// the scheduled or safety prefix are reserved for those triggers, since
// retention selects entries by prefix.
func (s *Service) SaveArtifact(ctx context.Context, art *Artifact, meta SaveMetadata) (*store.CatalogEntry, error) {
	if art != nil {
		for _, reserved := range []string{ScheduledPrefix, SafetyPrefix} {
			if strings.HasPrefix(art.Name, reserved) {
				return nil, invalid("file_name", "names starting with %q are reserved for system backups", reserved)
			}
		}
	}
	if meta.CreatedBy == "" {
		meta.CreatedBy = s.createdBy
	}
	entry, err := s.artifacts.Save(ctx, art, meta)
	if err != nil {
		return nil, err
	}
	s.metrics.BackupStored(string(Manual), string(art.Format), entry.FileSizeBytes)
	return entry, nil
}

// ListBackups returns every catalog entry, newest first.
func (s *Service) ListBackups(ctx context.Context) ([]store.CatalogEntry, error) {
	return s.artifacts.List(ctx, "")
}

// GetBackup returns one catalog entry.
func (s *Service) GetBackup(ctx context.Context, id string) (*store.CatalogEntry, error) {
	return s.artifacts.Get(ctx, id)
}

// DownloadBackup returns a stored artifact.
func (s *Service) DownloadBackup(ctx context.Context, id string) (*Artifact, error) {
	art, _, err := s.artifacts.Fetch(ctx, id)
	return art, err
}

// DeleteBackup removes an artifact and its catalog entry.
func (s *Service) DeleteBackup(ctx context.Context, id string) error {
	return s.artifacts.Discard(ctx, id)
}

// ============================================================================
// Restore
// ============================================================================

// ImportBackup restores a structured artifact.
func (s *Service) ImportBackup(ctx context.Context, req ImportRequest) (*RestoreReport, error) {
	report, err := s.restorer.Restore(ctx, req)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			s.metrics.RestoreFinished(string(req.Mode), "rejected")
		}
		return nil, err
	}
	failed := report.Failed()
	for range failed {
		s.metrics.TableFailed(OpRestore)
	}
	outcome := "ok"
	if len(failed) > 0 {
		outcome = "partial"
	}
	s.metrics.RestoreFinished(string(req.Mode), outcome)
	return report, nil
}

// ============================================================================
// Scheduled Backups
// ============================================================================

// ScheduledRun is the outcome of a scheduled backup.
type ScheduledRun struct {
	Entry     *store.CatalogEntry
	Dropped   []*TableError
	Retention *RetentionReport
	// RetentionErr is set when rotation could not run; the backup itself
	// is still stored.
	RetentionErr error
}

// TriggerScheduledBackup snapshots every table over the period's window,
// stores a structured artifact and then enforces the retention ceiling.
// Tables whose read failed are left out of the artifact and reported in
// Dropped; if every table failed nothing is stored.
func (s *Service) TriggerScheduledBackup(ctx context.Context, period Period, retention int) (*ScheduledRun, error) {
	if _, err := ParsePeriod(string(period)); err != nil {
		return nil, err
	}
	if retention < 1 {
		return nil, invalid("retention", "ceiling must be at least 1, got %d", retention)
	}

	now := s.now()
	from, to, allTime := period.Window(now)
	req := SnapshotRequest{
		DateFrom:    from,
		DateTo:      to,
		AllTime:     allTime,
		Tables:      s.registry.Names(),
		TriggeredBy: Scheduled,
	}
	result, err := s.collector.Collect(ctx, req)
	if err != nil {
		return nil, err
	}
	s.countReadFailures(result)

	prefix := fmt.Sprintf("%s%s-", ScheduledPrefix, period)
	art, err := s.packager.Pack(result, Structured, prefix, now)
	if err != nil {
		return nil, fmt.Errorf("scheduled %s backup: %w", period, err)
	}
	entry, err := s.artifacts.Save(ctx, art, SaveMetadata{
		DateFrom:  from,
		DateTo:    to,
		Tables:    art.Tables,
		CreatedBy: "scheduler",
	})
	if err != nil {
		return nil, fmt.Errorf("scheduled %s backup: %w", period, err)
	}
	s.metrics.BackupStored(string(Scheduled), string(art.Format), entry.FileSizeBytes)

	run := &ScheduledRun{Entry: entry, Dropped: art.Dropped}
	for _, d := range art.Dropped {
		s.logger.Warn("scheduled backup stored without table", "table", d.Table, "error", d.Err)
	}

	run.Retention, run.RetentionErr = s.retention.Enforce(ctx, retention)
	if run.RetentionErr != nil {
		s.logger.Error("retention enforcement failed", "error", run.RetentionErr)
	} else {
		s.metrics.RetentionDiscarded(run.Retention.Removed)
	}
	return run, nil
}

// ============================================================================
// Period Reset
// ============================================================================

// ResetPeriod stores a safety backup and then wipes transactional tables.
func (s *Service) ResetPeriod(ctx context.Context, req ResetRequest) (*ResetReport, error) {
	if req.RequestedBy == "" {
		req.RequestedBy = s.createdBy
	}
	report, err := s.resetter.Reset(ctx, req)
	switch {
	case errors.Is(err, ErrValidation):
		s.metrics.ResetFinished("rejected")
		return nil, err
	case err != nil:
		s.metrics.ResetFinished("aborted")
		return nil, err
	}

	s.metrics.BackupStored(string(Manual), string(Structured), report.SafetyBackup.FileSizeBytes)
	failed := report.Failed()
	for _, f := range failed {
		s.metrics.TableFailed(f.Op)
	}
	if len(failed) > 0 {
		s.metrics.ResetFinished("partial")
	} else {
		s.metrics.ResetFinished("ok")
	}
	return report, nil
}

func (s *Service) countReadFailures(result *SnapshotResult) {
	for range result.Failures() {
		s.metrics.TableFailed(OpRead)
	}
}
