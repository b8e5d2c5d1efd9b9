package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BadgerOps/rollcall/internal/blob"
	"github.com/BadgerOps/rollcall/internal/metrics"
	"github.com/BadgerOps/rollcall/internal/row"
	"github.com/BadgerOps/rollcall/internal/store"
	"github.com/BadgerOps/rollcall/internal/tables"
)

var errInjected = errors.New("injected failure")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:", discardLogger())
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestBlobs(t *testing.T) *blob.FSStore {
	t.Helper()
	b, err := blob.NewFSStore(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("blob.NewFSStore() failed: %v", err)
	}
	return b
}

// stepClock returns start, then advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newStepClock(start time.Time, step time.Duration) *stepClock {
	return &stepClock{t: start, step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func mustInsert(t *testing.T, s *store.Store, table string, rows ...row.Row) {
	t.Helper()
	if _, err := s.InsertRows(context.Background(), table, rows); err != nil {
		t.Fatalf("InsertRows(%s) failed: %v", table, err)
	}
}

func mustCount(t *testing.T, s *store.Store, table string) int {
	t.Helper()
	n, err := s.CountRows(context.Background(), table)
	if err != nil {
		t.Fatalf("CountRows(%s) failed: %v", table, err)
	}
	return n
}

func attendance(id, student int64, date, status string) row.Row {
	return row.New(
		row.F("id", row.Int(id)),
		row.F("student_id", row.Int(student)),
		row.F("date", row.String(date)),
		row.F("status", row.String(status)),
	)
}

// seedProgram fills one table per category with a small roster.
func seedProgram(t *testing.T, s *store.Store) {
	t.Helper()
	mustInsert(t, s, "settings", row.New(row.F("id", row.Int(1)), row.F("key", row.String("term")), row.F("value", row.String("spring"))))
	mustInsert(t, s, "teachers", row.New(row.F("id", row.Int(1)), row.F("name", row.String("Yusuf"))))
	mustInsert(t, s, "circles", row.New(row.F("id", row.Int(1)), row.F("name", row.String("Al-Fajr")), row.F("teacher_id", row.Int(1))))
	mustInsert(t, s, "students",
		row.New(row.F("id", row.Int(1)), row.F("name", row.String("Amina")), row.F("circle_id", row.Int(1))),
		row.New(row.F("id", row.Int(2)), row.F("name", row.String("Bilal, Jr.")), row.F("circle_id", row.Int(1))),
	)
	mustInsert(t, s, "tools", row.New(row.F("id", row.Int(1)), row.F("name", row.String("Projector")), row.F("quantity", row.Int(2))))
	mustInsert(t, s, "attendance",
		attendance(1, 1, "2023-12-31", "present"),
		attendance(2, 1, "2024-01-01", "present"),
		attendance(3, 2, "2024-01-31", "absent"),
		attendance(4, 2, "2024-02-01", "late"),
	)
	mustInsert(t, s, "points_log",
		row.New(row.F("id", row.Int(1)), row.F("student_id", row.Int(1)), row.F("date", row.String("2024-01-15")), row.F("points", row.Int(5))),
	)
	mustInsert(t, s, "point_totals",
		row.New(row.F("id", row.Int(1)), row.F("student_id", row.Int(1)), row.F("total_points", row.Int(5))),
		row.New(row.F("id", row.Int(2)), row.F("student_id", row.Int(2)), row.F("total_points", row.Int(12))),
	)
	mustInsert(t, s, "tool_loans",
		row.New(row.F("id", row.Int(1)), row.F("tool_id", row.Int(1)), row.F("student_id", row.Int(2)), row.F("loaned_on", row.String("2024-01-10"))),
	)
}

// flakyRows fails reads of selected tables and counts writes.
type flakyRows struct {
	*store.Store
	failRead map[string]bool

	mu     sync.Mutex
	reads  int
	writes int
}

func (f *flakyRows) read(table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.failRead[table] {
		return errInjected
	}
	return nil
}

func (f *flakyRows) wrote() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
}

func (f *flakyRows) ReadTable(ctx context.Context, table string) ([]row.Row, error) {
	if err := f.read(table); err != nil {
		return nil, err
	}
	return f.Store.ReadTable(ctx, table)
}

func (f *flakyRows) ReadTableRange(ctx context.Context, table, column string, from, to time.Time) ([]row.Row, error) {
	if err := f.read(table); err != nil {
		return nil, err
	}
	return f.Store.ReadTableRange(ctx, table, column, from, to)
}

func (f *flakyRows) UpsertRows(ctx context.Context, table, identity string, rows []row.Row) (int, error) {
	f.wrote()
	return f.Store.UpsertRows(ctx, table, identity, rows)
}

func (f *flakyRows) ReplaceRows(ctx context.Context, table string, rows []row.Row) (int64, int, error) {
	f.wrote()
	return f.Store.ReplaceRows(ctx, table, rows)
}

func (f *flakyRows) DeleteAllRows(ctx context.Context, table string) (int64, error) {
	f.wrote()
	return f.Store.DeleteAllRows(ctx, table)
}

func (f *flakyRows) ZeroColumns(ctx context.Context, table string, columns []string) (int64, error) {
	f.wrote()
	return f.Store.ZeroColumns(ctx, table, columns)
}

// flakyCatalog fails catalog inserts when failCreate is set.
type flakyCatalog struct {
	Catalog
	failCreate bool
	failDelete bool
}

func (f *flakyCatalog) CreateCatalogEntry(ctx context.Context, e *store.CatalogEntry) error {
	if f.failCreate {
		return errInjected
	}
	return f.Catalog.CreateCatalogEntry(ctx, e)
}

func (f *flakyCatalog) DeleteCatalogEntry(ctx context.Context, id string) error {
	if f.failDelete {
		return errInjected
	}
	return f.Catalog.DeleteCatalogEntry(ctx, id)
}

// flakyBlobs fails deletes of the listed keys.
type flakyBlobs struct {
	*blob.FSStore
	failDelete map[string]bool
}

func (f *flakyBlobs) Delete(ctx context.Context, key string) error {
	if f.failDelete[key] {
		return errInjected
	}
	return f.FSStore.Delete(ctx, key)
}

type testEnv struct {
	svc     *Service
	store   *store.Store
	rows    *flakyRows
	catalog *flakyCatalog
	blobs   *flakyBlobs
	metrics *metrics.Metrics
	clock   *stepClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := newTestStore(t)
	env := &testEnv{
		store:   s,
		rows:    &flakyRows{Store: s, failRead: map[string]bool{}},
		catalog: &flakyCatalog{Catalog: s},
		blobs:   &flakyBlobs{FSStore: newTestBlobs(t), failDelete: map[string]bool{}},
		metrics: metrics.New(),
		clock:   newStepClock(time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC), time.Minute),
	}
	svc, err := NewService(tables.Program(), env.rows, env.catalog, env.blobs, Options{
		WorkerLimit: 3,
		Compression: CompressionZstd,
		CreatedBy:   "tester",
		Metrics:     env.metrics,
		Logger:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	svc.setClock(env.clock.Now)
	env.svc = svc
	return env
}

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}
