package backup

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BadgerOps/rollcall/internal/row"
	"github.com/BadgerOps/rollcall/internal/tables"
)

// DefaultWorkerLimit bounds concurrent table reads when none is configured.
const DefaultWorkerLimit = 4

// Collector reads tables for a snapshot.
type Collector struct {
	registry *tables.Registry
	reader   RowReader
	workers  int
	logger   *slog.Logger
	now      func() time.Time
}

// NewCollector creates a collector issuing at most workers reads at once.
func NewCollector(registry *tables.Registry, reader RowReader, workers int, logger *slog.Logger) *Collector {
	if workers <= 0 {
		workers = DefaultWorkerLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		registry: registry,
		reader:   reader,
		workers:  workers,
		logger:   logger,
		now:      time.Now,
	}
}

// Validate rejects malformed requests. It performs no reads.
func (c *Collector) Validate(req SnapshotRequest) error {
	if len(req.Tables) == 0 {
		return invalid("tables", "at least one table is required")
	}
	if unknown := c.registry.Unknown(req.Tables); len(unknown) > 0 {
		return invalid("tables", "unknown table(s): %s", strings.Join(unknown, ", "))
	}
	if req.AllTime {
		return nil
	}

	needsRange := false
	for _, name := range req.Tables {
		d, _ := c.registry.Get(name)
		if d.HasTemporalKey() {
			needsRange = true
			break
		}
	}
	if needsRange && (req.DateFrom.IsZero() || req.DateTo.IsZero()) {
		return invalid("date_range", "date_from and date_to are required when a dated table is selected")
	}
	if !req.DateFrom.IsZero() && !req.DateTo.IsZero() && day(req.DateFrom).After(day(req.DateTo)) {
		return invalid("date_range", "date_from %s is after date_to %s",
			req.DateFrom.Format(time.DateOnly), req.DateTo.Format(time.DateOnly))
	}
	return nil
}

// Collect reads every requested table. Invalid requests fail before any
// read. A failed read is recorded against its table and never aborts the
// other reads, so the result always holds one outcome per table.
//
// Reads run concurrently without cross-table isolation.
func (c *Collector) Collect(ctx context.Context, req SnapshotRequest) (*SnapshotResult, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	names := dedupe(req.Tables)

	result := &SnapshotResult{
		Request: req,
		Tables:  make([]TableSnapshot, len(names)),
		Started: c.now(),
	}
	var mu sync.Mutex
	record := func(i int, ts TableSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		result.Tables[i] = ts
	}

	jobs := make(chan int, len(names))
	var wg sync.WaitGroup
	workers := min(c.workers, len(names))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					record(i, TableSnapshot{Table: names[i], Err: ctx.Err()})
					continue
				}
				rows, err := c.readTable(ctx, names[i], req)
				ts := TableSnapshot{Table: names[i], Rows: rows, Err: err}
				if err == nil && len(rows) == 0 {
					ts.Columns = c.columns(ctx, names[i])
				}
				record(i, ts)
			}
		}()
	}
	for i := range names {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	result.Finished = c.now()

	failed := 0
	for _, ts := range result.Tables {
		if ts.Err != nil {
			failed++
			c.logger.Warn("table read failed", "table", ts.Table, "error", ts.Err)
		}
	}
	c.logger.Info("snapshot collected",
		"tables", len(names),
		"failed", failed,
		"range", rangeOf(req),
		"trigger", req.TriggeredBy,
		"duration", result.Finished.Sub(result.Started))
	return result, nil
}

func (c *Collector) readTable(ctx context.Context, name string, req SnapshotRequest) ([]row.Row, error) {
	d, _ := c.registry.Get(name)
	if !d.HasTemporalKey() || req.AllTime {
		rows, err := c.reader.ReadTable(ctx, name)
		if err != nil {
			return nil, err
		}
		return coerceTemporal(rows, d.TemporalKey), nil
	}

	rows, err := c.reader.ReadTableRange(ctx, name, d.TemporalKey, day(req.DateFrom), day(req.DateTo))
	if err != nil {
		return nil, err
	}
	return coerceTemporal(rows, d.TemporalKey), nil
}

// columns is best effort; a table without rows exports an empty header
// when its columns cannot be listed.
func (c *Collector) columns(ctx context.Context, name string) []string {
	lister, ok := c.reader.(ColumnLister)
	if !ok {
		return nil
	}
	cols, err := lister.Columns(ctx, name)
	if err != nil {
		c.logger.Debug("listing columns failed", "table", name, "error", err)
		return nil
	}
	return cols
}

func coerceTemporal(rows []row.Row, key string) []row.Row {
	if key == "" {
		return rows
	}
	for i := range rows {
		if v, ok := rows[i].Get(key); ok {
			rows[i].Set(key, v.AsDate())
		}
	}
	return rows
}

func rangeOf(req SnapshotRequest) string {
	if req.AllTime {
		return "all time"
	}
	return formatRange(req.DateFrom, req.DateTo)
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
