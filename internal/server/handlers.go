package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BadgerOps/rollcall/internal/backup"
	"github.com/BadgerOps/rollcall/internal/store"
)

// Request body limits.
const (
	maxJSONBodyBytes     = 1 << 20
	maxArtifactBodyBytes = 512 << 20
)

// adminHeader carries the authenticated administrator's name. Authentication
// happens in front of this service.
const adminHeader = "X-Admin-User"

var errBodyTooLarge = errors.New("request body too large")

func adminUser(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(adminHeader))
}

// readAllWithLimit reads from r and fails if content exceeds limit bytes.
func readAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeJSONBody(r *http.Request, v any) error {
	data, err := readAllWithLimit(r.Body, maxJSONBodyBytes)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps the backup error taxonomy onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBodyTooLarge):
		code = http.StatusRequestEntityTooLarge
	case errors.Is(err, backup.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, backup.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, backup.ErrNothingToPackage):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, backup.ErrFatalSetup), errors.Is(err, backup.ErrConflict):
		code = http.StatusConflict
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	jsonError(w, code, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type tableJSON struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Category    string `json:"category"`
	Critical    bool   `json:"critical"`
	TemporalKey string `json:"temporal_key,omitempty"`
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	descs := s.service.Tables()
	result := make([]tableJSON, 0, len(descs))
	for _, d := range descs {
		result = append(result, tableJSON{
			Name:        d.Name,
			Label:       d.Label,
			Category:    string(d.Category),
			Critical:    d.Critical,
			TemporalKey: d.TemporalKey,
		})
	}
	writeJSON(w, http.StatusOK, result)
}

// catalogEntryJSON is the JSON representation of a catalog entry.
type catalogEntryJSON struct {
	ID             string    `json:"id"`
	FileName       string    `json:"file_name"`
	FileSizeBytes  int64     `json:"file_size_bytes"`
	FileType       string    `json:"file_type"`
	StorageKey     string    `json:"storage_key"`
	DateRangeFrom  string    `json:"date_range_from,omitempty"`
	DateRangeTo    string    `json:"date_range_to,omitempty"`
	TablesIncluded []string  `json:"tables_included"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
}

func entryToJSON(e *store.CatalogEntry) catalogEntryJSON {
	out := catalogEntryJSON{
		ID:             e.ID,
		FileName:       e.FileName,
		FileSizeBytes:  e.FileSizeBytes,
		FileType:       e.FileType,
		StorageKey:     e.StorageKey,
		TablesIncluded: e.TablesIncluded,
		CreatedAt:      e.CreatedAt,
		CreatedBy:      e.CreatedBy,
	}
	if out.TablesIncluded == nil {
		out.TablesIncluded = []string{}
	}
	if !e.DateRangeFrom.IsZero() {
		out.DateRangeFrom = e.DateRangeFrom.Format(time.DateOnly)
	}
	if !e.DateRangeTo.IsZero() {
		out.DateRangeTo = e.DateRangeTo.Format(time.DateOnly)
	}
	return out
}

type tableErrorJSON struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	Error string `json:"error"`
}

func tableErrorsToJSON(errs []*backup.TableError) []tableErrorJSON {
	out := make([]tableErrorJSON, 0, len(errs))
	for _, e := range errs {
		out = append(out, tableErrorJSON{Table: e.Table, Op: e.Op, Error: e.Err.Error()})
	}
	return out
}

// parseDateParam accepts an empty value as "not set".
func parseDateParam(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, &backup.ValidationError{Field: field, Reason: fmt.Sprintf("expected YYYY-MM-DD, got %q", value)}
	}
	return t, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
