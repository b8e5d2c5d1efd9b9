package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.BackupStored("manual", "structured", 10)
	m.TableFailed("read")
	m.RestoreFinished("merge", "ok")
	m.RetentionDiscarded(2)
	m.ResetFinished("ok")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("nil Handler() status = %d, want 404", w.Code)
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.BackupStored("scheduled", "structured", 512)
	m.BackupStored("scheduled", "structured", 1024)
	m.RetentionDiscarded(3)
	m.TableFailed("restore")

	if got := testutil.ToFloat64(m.BackupsCreated.WithLabelValues("scheduled", "structured")); got != 2 {
		t.Errorf("backups_created_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LastBackupBytes); got != 1024 {
		t.Errorf("last_backup_size_bytes = %v, want 1024", got)
	}
	if got := testutil.ToFloat64(m.RetentionRemoved); got != 3 {
		t.Errorf("retention_removed_total = %v, want 3", got)
	}

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Handler() status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "rollcall_backup_table_failures_total") {
		t.Error("exposition missing rollcall_backup_table_failures_total")
	}
}
