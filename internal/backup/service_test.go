package backup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/BadgerOps/rollcall/internal/tables"
)

func TestTriggerScheduledBackupDaily(t *testing.T) {
	env := newTestEnv(t)
	seedProgram(t, env.store)
	ctx := context.Background()

	run, err := env.svc.TriggerScheduledBackup(ctx, Daily, 7)
	if err != nil {
		t.Fatalf("TriggerScheduledBackup() failed: %v", err)
	}
	e := run.Entry
	if !strings.HasPrefix(e.FileName, "auto-daily-20240201-") || e.FileType != string(Structured) {
		t.Errorf("entry = %+v", e)
	}
	if !e.DateRangeFrom.Equal(date("2024-01-31")) || !e.DateRangeTo.Equal(date("2024-02-01")) {
		t.Errorf("range = %s..%s", e.DateRangeFrom, e.DateRangeTo)
	}
	if len(e.TablesIncluded) != len(tables.Program().Names()) {
		t.Errorf("TablesIncluded = %v", e.TablesIncluded)
	}
	if e.CreatedBy != "scheduler" {
		t.Errorf("CreatedBy = %q", e.CreatedBy)
	}
	if run.Retention == nil || run.Retention.Kept != 1 {
		t.Errorf("Retention = %+v", run.Retention)
	}

	art, err := env.svc.DownloadBackup(ctx, e.ID)
	if err != nil {
		t.Fatalf("DownloadBackup() failed: %v", err)
	}
	snaps, _ := DecodeStructured(art.Data)
	for _, s := range snaps {
		if s.Table == "attendance" && len(s.Rows) != 2 {
			t.Errorf("attendance = %d rows, want the 2 dated Jan 31 and Feb 1", len(s.Rows))
		}
	}

	if got := testutil.ToFloat64(env.metrics.BackupsCreated.WithLabelValues("scheduled", "structured")); got != 1 {
		t.Errorf("backups_created_total = %v, want 1", got)
	}
}

func TestTriggerScheduledBackupPartialFailureStillCataloged(t *testing.T) {
	env := newTestEnv(t)
	seedProgram(t, env.store)
	env.rows.failRead["attendance"] = true
	env.rows.failRead["tools"] = true

	run, err := env.svc.TriggerScheduledBackup(context.Background(), Full, 7)
	if err != nil {
		t.Fatalf("TriggerScheduledBackup() failed: %v", err)
	}
	if len(run.Dropped) != 2 {
		t.Fatalf("Dropped = %v, want attendance and tools", run.Dropped)
	}
	for _, name := range run.Entry.TablesIncluded {
		if name == "attendance" || name == "tools" {
			t.Errorf("TablesIncluded lists failed table %s", name)
		}
	}
	if !run.Entry.DateRangeFrom.IsZero() {
		t.Errorf("full backup has a range: %s", run.Entry.DateRangeFrom)
	}
	if got := testutil.ToFloat64(env.metrics.TableFailures.WithLabelValues(OpRead)); got != 2 {
		t.Errorf("table failures = %v, want 2", got)
	}
}

func TestTriggerScheduledBackupAllFailed(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range tables.Program().Names() {
		env.rows.failRead[name] = true
	}
	ctx := context.Background()

	if _, err := env.svc.TriggerScheduledBackup(ctx, Weekly, 7); !errors.Is(err, ErrNothingToPackage) {
		t.Fatalf("TriggerScheduledBackup() error = %v, want ErrNothingToPackage", err)
	}
	entries, _ := env.svc.ListBackups(ctx)
	if len(entries) != 0 {
		t.Errorf("catalog has %d entries, want 0", len(entries))
	}
}

func TestTriggerScheduledBackupValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.TriggerScheduledBackup(context.Background(), "hourly", 7); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown period error = %v", err)
	}
	if _, err := env.svc.TriggerScheduledBackup(context.Background(), Daily, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("zero retention error = %v", err)
	}
	if env.rows.reads != 0 {
		t.Errorf("reads = %d, want 0", env.rows.reads)
	}
}

func TestSaveBackupInfersFormat(t *testing.T) {
	env := newTestEnv(t)
	seedProgram(t, env.store)
	ctx := context.Background()

	art, err := env.svc.CreateBackup(ctx, ExportRequest{Tables: []string{"students"}, Format: Tabular})
	if err != nil {
		t.Fatalf("CreateBackup() failed: %v", err)
	}
	entry, err := env.svc.SaveBackup(ctx, SaveRequest{
		Data:     art.Data,
		FileName: art.Name,
		Tables:   []string{"students"},
	})
	if err != nil {
		t.Fatalf("SaveBackup() failed: %v", err)
	}
	if entry.FileType != string(Tabular) {
		t.Errorf("FileType = %q, want tabular", entry.FileType)
	}
	if entry.CreatedBy != "tester" {
		t.Errorf("CreatedBy = %q, want the configured default", entry.CreatedBy)
	}

	got, err := env.svc.DownloadBackup(ctx, entry.ID)
	if err != nil {
		t.Fatalf("DownloadBackup() failed: %v", err)
	}
	if string(got.Data) != string(art.Data) {
		t.Error("downloaded bytes differ from uploaded bytes")
	}

	if err := env.svc.DeleteBackup(ctx, entry.ID); err != nil {
		t.Fatalf("DeleteBackup() failed: %v", err)
	}
	if err := env.svc.DeleteBackup(ctx, entry.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteBackup() error = %v, want ErrNotFound", err)
	}
}

func TestSaveBackupValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		req  SaveRequest
	}{
		{"empty", SaveRequest{FileName: "a.json"}},
		{"no name", SaveRequest{Data: []byte("{}")}},
		{"bad format", SaveRequest{Data: []byte("{}"), FileName: "a.json", Format: "xml"}},
		{"unknown table", SaveRequest{Data: []byte("{}"), FileName: "a.json", Tables: []string{"grades"}}},
		{"scheduled prefix", SaveRequest{Data: []byte("{}"), FileName: "auto-daily-mine.json"}},
		{"safety prefix", SaveRequest{Data: []byte("{}"), FileName: "pre-reset-mine.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.SaveBackup(context.Background(), tt.req); !errors.Is(err, ErrValidation) {
				t.Errorf("SaveBackup() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestManualUploadIsNeverRotated(t *testing.T) {
	env := newTestEnv(t)
	seedProgram(t, env.store)
	ctx := context.Background()

	manual, err := env.svc.SaveBackup(ctx, SaveRequest{Data: []byte(`{"settings":[]}`), FileName: "daily-mine.json"})
	if err != nil {
		t.Fatalf("SaveBackup() failed: %v", err)
	}
	if _, err := env.svc.SaveBackup(ctx, SaveRequest{Data: []byte(`{"settings":[]}`), FileName: "auto-daily-mine.json"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("SaveBackup(auto-daily-mine.json) error = %v, want ErrValidation", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := env.svc.TriggerScheduledBackup(ctx, Daily, 1); err != nil {
			t.Fatalf("TriggerScheduledBackup() run %d failed: %v", i, err)
		}
	}

	if _, err := env.svc.GetBackup(ctx, manual.ID); err != nil {
		t.Errorf("manual entry was rotated: %v", err)
	}
	entries, _ := env.svc.ListBackups(ctx)
	if len(entries) != 2 {
		t.Errorf("catalog has %d entries, want the manual one plus 1 scheduled", len(entries))
	}
}

func TestPeriodWindow(t *testing.T) {
	now := date("2024-03-31").Add(15 * time.Hour)
	tests := []struct {
		period  Period
		from    string
		allTime bool
	}{
		{Daily, "2024-03-30", false},
		{Weekly, "2024-03-24", false},
		{Monthly, "2024-03-02", false},
		{Full, "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			from, to, allTime := tt.period.Window(now)
			if allTime != tt.allTime {
				t.Fatalf("allTime = %v", allTime)
			}
			if allTime {
				return
			}
			if got := from.Format("2006-01-02"); got != tt.from {
				t.Errorf("from = %s, want %s", got, tt.from)
			}
			if got := to.Format("2006-01-02"); got != "2024-03-31" {
				t.Errorf("to = %s, want 2024-03-31", got)
			}
		})
	}
}

// A daily run just after midnight still reaches back over the previous day.
func TestDailyWindowSpansTwoCalendarDays(t *testing.T) {
	from, to, _ := Daily.Window(date("2024-03-31").Add(5 * time.Minute))
	if from.Format(time.DateOnly) != "2024-03-30" || to.Format(time.DateOnly) != "2024-03-31" {
		t.Errorf("Daily window = %s..%s, want 2024-03-30..2024-03-31",
			from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
}
