package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BadgerOps/rollcall/internal/backup"
	"github.com/BadgerOps/rollcall/internal/blob"
	"github.com/BadgerOps/rollcall/internal/config"
	"github.com/BadgerOps/rollcall/internal/metrics"
	"github.com/BadgerOps/rollcall/internal/row"
	"github.com/BadgerOps/rollcall/internal/store"
	"github.com/BadgerOps/rollcall/internal/tables"
)

type testServer struct {
	srv   *Server
	store *store.Store
	h     http.Handler
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(":memory:", logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Fatalf("failed to close store: %v", err)
		}
	})
	blobs, err := blob.NewFSStore(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	m := metrics.New()
	svc, err := backup.NewService(tables.Program(), st, st, blobs, backup.Options{
		WorkerLimit: 2,
		Compression: cfg.Backup.Compression,
		CreatedBy:   cfg.Backup.CreatedBy,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(svc, m, cfg, logger)
	return &testServer{srv: srv, store: st, h: srv.Handler()}
}

func (ts *testServer) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	insert := func(table string, rows ...row.Row) {
		if _, err := ts.store.InsertRows(ctx, table, rows); err != nil {
			t.Fatalf("InsertRows(%s) failed: %v", table, err)
		}
	}
	insert("teachers", row.New(row.F("id", row.Int(1)), row.F("name", row.String("Yusuf"))))
	insert("circles", row.New(row.F("id", row.Int(1)), row.F("name", row.String("Al-Fajr")), row.F("teacher_id", row.Int(1))))
	insert("students", row.New(row.F("id", row.Int(1)), row.F("name", row.String("Amina")), row.F("circle_id", row.Int(1))))
	insert("attendance",
		row.New(row.F("id", row.Int(1)), row.F("student_id", row.Int(1)), row.F("date", row.String("2024-01-05")), row.F("status", row.String("present"))),
		row.New(row.F("id", row.Int(2)), row.F("student_id", row.Int(1)), row.F("date", row.String("2024-02-05")), row.F("status", row.String("absent"))),
	)
	insert("point_totals", row.New(row.F("id", row.Int(1)), row.F("student_id", row.Int(1)), row.F("total_points", row.Int(9))))
}

func (ts *testServer) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set(adminHeader, "amina")
	w := httptest.NewRecorder()
	ts.h.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}

	w = ts.do(t, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
}

func TestListTables(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, "GET", "/api/tables", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []tableJSON
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != len(tables.Program().Names()) {
		t.Errorf("got %d tables", len(got))
	}
	for _, tj := range got {
		if tj.Name == "attendance" && tj.TemporalKey != "date" {
			t.Errorf("attendance temporal key = %q", tj.TemporalKey)
		}
	}
}

func TestExportReturnsArtifactBytes(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(t)

	body := `{"date_from":"2024-01-01","date_to":"2024-01-31","tables":["attendance","students"],"format":"structured"}`
	w := ts.do(t, "POST", "/api/backups/export", []byte(body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "backup-") || !strings.Contains(cd, ".json") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	var doc map[string][]map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("export is not a structured document: %v", err)
	}
	if len(doc["attendance"]) != 1 || len(doc["students"]) != 1 {
		t.Errorf("attendance=%d students=%d, want 1 and 1", len(doc["attendance"]), len(doc["students"]))
	}
}

func TestExportValidationErrors(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"no tables", `{"format":"structured"}`},
		{"unknown table", `{"tables":["grades"]}`},
		{"missing dates", `{"tables":["attendance"]}`},
		{"bad date", `{"tables":["attendance"],"date_from":"01/01/2024","date_to":"2024-01-31"}`},
		{"bad format", `{"tables":["students"],"format":"xlsx"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, "POST", "/api/backups/export", []byte(tt.body))
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestSaveListDownloadDelete(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(t)

	w := ts.do(t, "POST", "/api/backups/export", []byte(`{"tables":["students"],"format":"tabular","save":true}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var saved savedExportJSON
	if err := json.NewDecoder(w.Body).Decode(&saved); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if saved.Entry.FileType != "tabular" || saved.Entry.CreatedBy != "amina" {
		t.Errorf("entry = %+v", saved.Entry)
	}

	w = ts.do(t, "GET", "/api/backups", nil)
	var entries []catalogEntryJSON
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].ID != saved.Entry.ID {
		t.Fatalf("entries = %+v", entries)
	}

	w = ts.do(t, "GET", "/api/backups/"+saved.Entry.ID+"/download", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download status = %d", w.Code)
	}
	if int64(w.Body.Len()) != saved.Entry.FileSizeBytes || !backup.IsTabular(w.Body.Bytes()) {
		t.Errorf("downloaded %d bytes, want %d tabular bytes", w.Body.Len(), saved.Entry.FileSizeBytes)
	}

	w = ts.do(t, "DELETE", "/api/backups/"+saved.Entry.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = ts.do(t, "GET", "/api/backups/"+saved.Entry.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestUploadBackup(t *testing.T) {
	ts := setupTestServer(t)

	q := url.Values{}
	q.Set("file_name", "backup-20240101-000000.json")
	q.Set("tables", "students, teachers")
	q.Set("date_from", "2024-01-01")
	q.Set("date_to", "2024-01-31")
	w := ts.do(t, "POST", "/api/backups?"+q.Encode(), []byte(`{"students":[],"teachers":[]}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var entry catalogEntryJSON
	json.NewDecoder(w.Body).Decode(&entry)
	if entry.FileType != "structured" || entry.DateRangeFrom != "2024-01-01" || len(entry.TablesIncluded) != 2 {
		t.Errorf("entry = %+v", entry)
	}

	w = ts.do(t, "POST", "/api/backups", []byte(`{}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("upload without file_name status = %d, want 400", w.Code)
	}
}

func TestUploadBackupConflictsAndReservedNames(t *testing.T) {
	ts := setupTestServer(t)

	q := url.Values{}
	q.Set("file_name", "backup-20240101-000000.json")
	if w := ts.do(t, "POST", "/api/backups?"+q.Encode(), []byte(`{}`)); w.Code != http.StatusCreated {
		t.Fatalf("first upload status = %d: %s", w.Code, w.Body.String())
	}
	if w := ts.do(t, "POST", "/api/backups?"+q.Encode(), []byte(`{}`)); w.Code != http.StatusConflict {
		t.Errorf("duplicate upload status = %d, want 409", w.Code)
	}

	q.Set("file_name", backup.ScheduledPrefix+"daily-mine.json")
	if w := ts.do(t, "POST", "/api/backups?"+q.Encode(), []byte(`{}`)); w.Code != http.StatusBadRequest {
		t.Errorf("reserved name upload status = %d, want 400", w.Code)
	}
}

func TestImportReplaceWithoutConfirmation(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(t)

	w := ts.do(t, "POST", "/api/backups/import?mode=replace", []byte(`{"point_totals":[]}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	n, _ := ts.store.CountRows(context.Background(), "point_totals")
	if n != 1 {
		t.Errorf("point_totals = %d rows, want untouched 1", n)
	}

	confirm := url.QueryEscape(backup.ReplaceConfirmation)
	w = ts.do(t, "POST", "/api/backups/import?mode=replace&confirm="+confirm, []byte(`{"point_totals":[]}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var report restoreReportJSON
	json.NewDecoder(w.Body).Decode(&report)
	if report.Failed != 0 || len(report.Tables) != 1 || report.Tables[0].Deleted != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestScheduledBackupUsesConfigDefaults(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(t)

	w := ts.do(t, "POST", "/api/backups/scheduled", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var run scheduledRunJSON
	json.NewDecoder(w.Body).Decode(&run)
	if !strings.HasPrefix(run.Entry.FileName, "auto-daily-") {
		t.Errorf("file name = %q", run.Entry.FileName)
	}
	if run.Retention == nil || run.Retention.Kept != 1 {
		t.Errorf("retention = %+v", run.Retention)
	}

	w = ts.do(t, "POST", "/api/backups/scheduled", []byte(`{"period":"hourly"}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown period status = %d, want 400", w.Code)
	}
}

func TestResetPeriod(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(t)

	w := ts.do(t, "POST", "/api/period/reset", []byte(`{"confirm":"yes"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	body, _ := json.Marshal(resetRequest{Confirm: backup.ResetConfirmation})
	w = ts.do(t, "POST", "/api/period/reset", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var report resetReportJSON
	json.NewDecoder(w.Body).Decode(&report)
	if report.SafetyBackupID == "" || report.SafetyBackup.CreatedBy != "amina" {
		t.Errorf("report = %+v", report)
	}
	if n, _ := ts.store.CountRows(context.Background(), "attendance"); n != 0 {
		t.Errorf("attendance = %d rows after reset", n)
	}
	if n, _ := ts.store.CountRows(context.Background(), "students"); n != 1 {
		t.Errorf("students = %d rows after reset, want 1", n)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	if _, err := readAllWithLimit(strings.NewReader("12345"), 4); err != errBodyTooLarge {
		t.Errorf("err = %v, want errBodyTooLarge", err)
	}
	data, err := readAllWithLimit(strings.NewReader("1234"), 4)
	if err != nil || string(data) != "1234" {
		t.Errorf("got %q, %v", data, err)
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := NewServer(nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start() after Shutdown = %v, want nil", err)
	}
}
