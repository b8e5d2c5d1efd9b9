package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BadgerOps/rollcall/internal/backup"
	"github.com/BadgerOps/rollcall/internal/store"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  int
	period backup.Period
	fail   bool
	done   chan struct{}
}

func (f *fakeRunner) TriggerScheduledBackup(_ context.Context, period backup.Period, _ int) (*backup.ScheduledRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.period = period
	if f.calls == 2 && f.done != nil {
		close(f.done)
	}
	if f.fail {
		return nil, errors.New("row store unavailable")
	}
	return &backup.ScheduledRun{Entry: &store.CatalogEntry{ID: "id", FileName: "auto-daily-20240101-000000.json"}}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewValidation(t *testing.T) {
	r := &fakeRunner{}
	tests := []struct {
		name      string
		period    backup.Period
		retention int
		interval  time.Duration
	}{
		{"zero interval", backup.Daily, 7, 0},
		{"unknown period", "hourly", 7, time.Hour},
		{"zero retention", backup.Daily, 0, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(r, tt.period, tt.retention, tt.interval, testLogger()); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func TestRunOnceSurvivesFailure(t *testing.T) {
	r := &fakeRunner{fail: true}
	s, err := New(r, backup.Weekly, 3, time.Hour, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if run := s.RunOnce(context.Background()); run != nil {
		t.Errorf("RunOnce() = %+v, want nil on failure", run)
	}
	if r.period != backup.Weekly {
		t.Errorf("period = %q, want weekly", r.period)
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	r := &fakeRunner{fail: true, done: make(chan struct{})}
	s, err := New(r, backup.Daily, 7, 5*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not tick twice")
	}
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
