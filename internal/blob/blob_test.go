package blob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestFSStore(t *testing.T) (*FSStore, string) {
	t.Helper()
	root := t.TempDir()
	s, err := NewFSStore(root, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewFSStore() failed: %v", err)
	}
	return s, root
}

func TestPutGetDelete(t *testing.T) {
	s, root := newTestFSStore(t)
	ctx := context.Background()

	key := "backups/2024/01/backup-20240131-120000.json"
	if err := s.Put(ctx, key, []byte(`{"students":[]}`)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "backups", "2024", "01", "backup-20240131-120000.json")); err != nil {
		t.Errorf("blob file missing on disk: %v", err)
	}

	data, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(data) != `{"students":[]}` {
		t.Errorf("Get() = %q", data)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if ok, _ := s.Exists(ctx, key); ok {
		t.Error("blob still exists after Delete()")
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	// A second delete is a no-op.
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("Delete() of missing blob failed: %v", err)
	}
}

func TestPutRefusesOverwrite(t *testing.T) {
	s, _ := newTestFSStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "backups/a.json", []byte("first")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	err := s.Put(ctx, "backups/a.json", []byte("second"))
	if !errors.Is(err, ErrExists) {
		t.Fatalf("second Put() error = %v, want ErrExists", err)
	}

	data, _ := s.Get(ctx, "backups/a.json")
	if string(data) != "first" {
		t.Errorf("blob overwritten: %q", data)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Join(s.root, "backups"))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".upload-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"backups/a.json", "backups/a.json", false},
		{"backups//2024/./a.json", "backups/2024/a.json", false},
		{"", "", true},
		{"/etc/passwd", "", true},
		{"../escape", "", true},
		{"backups/../../escape", "", true},
		{`backups\a.json`, "", true},
		{".", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := CleanKey(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Errorf("CleanKey(%q) = %q, want error", tt.key, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanKey(%q) failed: %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("CleanKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestCancelledContext(t *testing.T) {
	s, _ := newTestFSStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Put(ctx, "backups/a.json", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() error = %v, want context.Canceled", err)
	}
}
