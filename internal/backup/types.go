package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/BadgerOps/rollcall/internal/row"
	"github.com/BadgerOps/rollcall/internal/store"
)

// Trigger records who asked for a snapshot.
type Trigger string

const (
	Manual    Trigger = "manual"
	Scheduled Trigger = "scheduled"
)

// Format is the artifact wire format.
type Format string

const (
	// Structured is one JSON document keyed by table name.
	Structured Format = "structured"
	// Tabular is one CSV file per table inside a compressed tar archive.
	// Tabular artifacts are export-only.
	Tabular Format = "tabular"
)

// ParseFormat accepts the lower-case format names.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case Structured, Tabular:
		return Format(s), nil
	}
	return "", invalid("format", "unknown format %q", s)
}

// Mode selects how an import treats existing rows.
type Mode string

const (
	Merge   Mode = "merge"
	Replace Mode = "replace"
)

// ParseMode accepts the lower-case mode names.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Merge, Replace:
		return Mode(s), nil
	}
	return "", invalid("mode", "unknown import mode %q", s)
}

// Period selects the window of a scheduled backup.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Full    Period = "full"
)

// ParsePeriod accepts the lower-case period names.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case Daily, Weekly, Monthly, Full:
		return Period(s), nil
	}
	return "", invalid("period", "unknown period %q", s)
}

// Window returns the date range a period covers, ending on the day of now.
// Both ends are whole days and inclusive, so Daily spans yesterday and
// today: a run at any hour still covers the preceding 24 hours, and
// consecutive daily backups overlap by one day. Full has no range.
func (p Period) Window(now time.Time) (from, to time.Time, allTime bool) {
	to = day(now)
	switch p {
	case Daily:
		return to.AddDate(0, 0, -1), to, false
	case Weekly:
		return to.AddDate(0, 0, -7), to, false
	case Monthly:
		return to.AddDate(0, -1, 0), to, false
	default:
		return time.Time{}, time.Time{}, true
	}
}

// Confirmation phrases for destructive operations. Callers must supply
// them verbatim.
const (
	ReplaceConfirmation = "REPLACE ALL DATA"
	ResetConfirmation   = "START NEW PERIOD"
)

// Artifact name prefixes. Only ScheduledPrefix entries are rotated.
const (
	ManualPrefix    = "backup-"
	ScheduledPrefix = "auto-"
	SafetyPrefix    = "pre-reset-"
)

// SnapshotRequest selects tables and an optional date window. It carries
// no implicit defaults.
type SnapshotRequest struct {
	DateFrom    time.Time
	DateTo      time.Time
	AllTime     bool // read temporal tables in full; dates are ignored
	Tables      []string
	TriggeredBy Trigger
}

// TableSnapshot is one table's outcome: rows or an error, never both.
type TableSnapshot struct {
	Table string
	Rows  []row.Row
	Err   error

	// Columns names the table's columns when a read found no rows, so an
	// empty export still carries a header.
	Columns []string
}

// SnapshotResult holds exactly one outcome per requested table.
//
// A snapshot is a best-effort view: tables are read independently, so
// rows read early and rows read late may reflect different instants if
// data changes during collection.
type SnapshotResult struct {
	Request  SnapshotRequest
	Tables   []TableSnapshot // requested order
	Started  time.Time
	Finished time.Time
}

// Succeeded returns the tables that were read.
func (r *SnapshotResult) Succeeded() []TableSnapshot {
	var out []TableSnapshot
	for _, t := range r.Tables {
		if t.Err == nil {
			out = append(out, t)
		}
	}
	return out
}

// Failures returns one TableError per table whose read failed.
func (r *SnapshotResult) Failures() []*TableError {
	var out []*TableError
	for _, t := range r.Tables {
		if t.Err != nil {
			out = append(out, &TableError{Table: t.Table, Op: OpRead, Err: t.Err})
		}
	}
	return out
}

// Artifact is a packaged snapshot. It is not modified after creation.
type Artifact struct {
	Format    Format
	Name      string
	Data      []byte
	SizeBytes int64
	CreatedAt time.Time
	Tables    []string      // tables present in Data
	Dropped   []*TableError // tables left out because their read failed
}

// Extension returns the file extension implied by the artifact name.
func (a *Artifact) Extension() string {
	for _, ext := range []string{".tar.zst", ".tar.xz", ".json"} {
		if len(a.Name) > len(ext) && a.Name[len(a.Name)-len(ext):] == ext {
			return ext
		}
	}
	return ""
}

// SaveMetadata is the catalog information recorded next to an artifact.
type SaveMetadata struct {
	DateFrom  time.Time
	DateTo    time.Time
	Tables    []string
	CreatedBy string
}

// ImportRequest restores a structured artifact.
type ImportRequest struct {
	Data         []byte
	Mode         Mode
	Confirmation string // required for Replace
}

// TableRestore is one table's restore outcome.
type TableRestore struct {
	Table   string
	Applied int   // rows upserted or inserted
	Deleted int64 // rows removed before insert (Replace only)
	Err     *TableError
}

// RestoreReport lists per-table outcomes in processing order.
type RestoreReport struct {
	Mode     Mode
	Tables   []TableRestore
	Duration time.Duration
}

// Failed returns the tables that could not be restored.
func (r *RestoreReport) Failed() []*TableError {
	var out []*TableError
	for _, t := range r.Tables {
		if t.Err != nil {
			out = append(out, t.Err)
		}
	}
	return out
}

// ResetRequest carries only the confirmation phrase.
type ResetRequest struct {
	Confirmation string
	RequestedBy  string
}

// TableReset is one table's reset outcome.
type TableReset struct {
	Table   string
	Deleted int64
	Zeroed  int64
	Err     *TableError
}

// ResetReport names the safety backup so the reset can always be undone.
type ResetReport struct {
	SafetyBackupID string
	SafetyBackup   *store.CatalogEntry
	Tables         []TableReset
	Duration       time.Duration
}

// Failed returns the tables whose reset step failed.
func (r *ResetReport) Failed() []*TableError {
	var out []*TableError
	for _, t := range r.Tables {
		if t.Err != nil {
			out = append(out, t.Err)
		}
	}
	return out
}

// RetentionReport compares what rotation targeted with what it removed.
type RetentionReport struct {
	Kept     int
	Targeted int
	Removed  int
	Failures []error
}

// RowReader is the read side of the row store.
type RowReader interface {
	ReadTable(ctx context.Context, table string) ([]row.Row, error)
	ReadTableRange(ctx context.Context, table, column string, from, to time.Time) ([]row.Row, error)
}

// ColumnLister is implemented by readers that can describe a table's
// columns in declaration order.
type ColumnLister interface {
	Columns(ctx context.Context, table string) ([]string, error)
}

// RowWriter is the write side of the row store used by restore and reset.
type RowWriter interface {
	UpsertRows(ctx context.Context, table, identity string, rows []row.Row) (int, error)
	ReplaceRows(ctx context.Context, table string, rows []row.Row) (int64, int, error)
	DeleteAllRows(ctx context.Context, table string) (int64, error)
	ZeroColumns(ctx context.Context, table string, columns []string) (int64, error)
}

// Catalog persists artifact metadata.
type Catalog interface {
	CreateCatalogEntry(ctx context.Context, e *store.CatalogEntry) error
	GetCatalogEntry(ctx context.Context, id string) (*store.CatalogEntry, error)
	ListCatalogEntries(ctx context.Context, prefix string) ([]store.CatalogEntry, error)
	DeleteCatalogEntry(ctx context.Context, id string) error
}

// BlobStore persists artifact bytes.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func formatRange(from, to time.Time) string {
	if from.IsZero() || to.IsZero() {
		return "all time"
	}
	return fmt.Sprintf("%s..%s", from.Format(time.DateOnly), to.Format(time.DateOnly))
}
