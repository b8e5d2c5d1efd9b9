package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/BadgerOps/rollcall/internal/backup"
)

// droppedHeader lists tables left out of an export because their read failed.
const droppedHeader = "X-Rollcall-Dropped-Tables"

type exportRequest struct {
	DateFrom string   `json:"date_from"`
	DateTo   string   `json:"date_to"`
	AllTime  bool     `json:"all_time"`
	Tables   []string `json:"tables"`
	Format   string   `json:"format"`
	// Save catalogs the artifact instead of returning its bytes.
	Save bool `json:"save"`
}

type savedExportJSON struct {
	Entry   catalogEntryJSON `json:"entry"`
	Dropped []tableErrorJSON `json:"dropped"`
}

func (s *Server) handleExportBackup(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeServiceError(w, r, &backup.ValidationError{Reason: err.Error()})
		return
	}

	formatName := req.Format
	if formatName == "" {
		formatName = s.config.Backup.DefaultFormat
	}
	format, err := backup.ParseFormat(formatName)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	from, err := parseDateParam("date_from", req.DateFrom)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	to, err := parseDateParam("date_to", req.DateTo)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	art, err := s.service.CreateBackup(r.Context(), backup.ExportRequest{
		DateFrom: from,
		DateTo:   to,
		AllTime:  req.AllTime,
		Tables:   req.Tables,
		Format:   format,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if req.Save {
		entry, err := s.service.SaveArtifact(r.Context(), art, backup.SaveMetadata{
			DateFrom:  from,
			DateTo:    to,
			Tables:    art.Tables,
			CreatedBy: adminUser(r),
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, savedExportJSON{
			Entry:   entryToJSON(entry),
			Dropped: tableErrorsToJSON(art.Dropped),
		})
		return
	}

	if len(art.Dropped) > 0 {
		names := make([]string, len(art.Dropped))
		for i, d := range art.Dropped {
			names[i] = d.Table
		}
		w.Header().Set(droppedHeader, strings.Join(names, ","))
	}
	writeArtifact(w, art)
}

func writeArtifact(w http.ResponseWriter, art *backup.Artifact) {
	contentType := "application/octet-stream"
	if art.Format == backup.Structured {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(art.Data)
}

// handleUploadBackup stores raw artifact bytes. Metadata comes from the
// query string: file_name, format, date_from, date_to, tables.
func (s *Server) handleUploadBackup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data, err := readAllWithLimit(r.Body, maxArtifactBodyBytes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var format backup.Format
	if f := q.Get("format"); f != "" {
		if format, err = backup.ParseFormat(f); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	from, err := parseDateParam("date_from", q.Get("date_from"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	to, err := parseDateParam("date_to", q.Get("date_to"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	entry, err := s.service.SaveBackup(r.Context(), backup.SaveRequest{
		Data:      data,
		FileName:  q.Get("file_name"),
		Format:    format,
		DateFrom:  from,
		DateTo:    to,
		Tables:    splitList(q.Get("tables")),
		CreatedBy: adminUser(r),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entryToJSON(entry))
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListBackups(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	result := make([]catalogEntryJSON, 0, len(entries))
	for i := range entries {
		result = append(result, entryToJSON(&entries[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.GetBackup(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entryToJSON(entry))
}

func (s *Server) handleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	art, err := s.service.DownloadBackup(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeArtifact(w, art)
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.DeleteBackup(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("backup deleted", "id", id, "user", adminUser(r))
	w.WriteHeader(http.StatusNoContent)
}

type tableRestoreJSON struct {
	Table   string `json:"table"`
	Applied int    `json:"applied"`
	Deleted int64  `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

type restoreReportJSON struct {
	Mode       string             `json:"mode"`
	Tables     []tableRestoreJSON `json:"tables"`
	Failed     int                `json:"failed"`
	DurationMS int64              `json:"duration_ms"`
}

// handleImportBackup restores a structured artifact from the request body.
// Query: mode=merge|replace, confirm=<phrase> for replace.
func (s *Server) handleImportBackup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	modeName := q.Get("mode")
	if modeName == "" {
		modeName = string(backup.Merge)
	}
	mode, err := backup.ParseMode(modeName)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	data, err := readAllWithLimit(r.Body, maxArtifactBodyBytes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	report, err := s.service.ImportBackup(r.Context(), backup.ImportRequest{
		Data:         data,
		Mode:         mode,
		Confirmation: q.Get("confirm"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := restoreReportJSON{
		Mode:       string(report.Mode),
		Tables:     make([]tableRestoreJSON, 0, len(report.Tables)),
		Failed:     len(report.Failed()),
		DurationMS: report.Duration.Milliseconds(),
	}
	for _, t := range report.Tables {
		tr := tableRestoreJSON{Table: t.Table, Applied: t.Applied, Deleted: t.Deleted}
		if t.Err != nil {
			tr.Error = t.Err.Err.Error()
		}
		out.Tables = append(out.Tables, tr)
	}
	s.logger.Info("backup imported", "mode", mode, "failed", out.Failed, "user", adminUser(r))
	writeJSON(w, http.StatusOK, out)
}
