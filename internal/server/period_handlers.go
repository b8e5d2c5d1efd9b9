package server

import (
	"net/http"

	"github.com/BadgerOps/rollcall/internal/backup"
)

type scheduledRequest struct {
	Period    string `json:"period"`
	Retention int    `json:"retention"`
}

type retentionJSON struct {
	Kept     int      `json:"kept"`
	Targeted int      `json:"targeted"`
	Removed  int      `json:"removed"`
	Failures []string `json:"failures,omitempty"`
}

type scheduledRunJSON struct {
	Entry          catalogEntryJSON `json:"entry"`
	Dropped        []tableErrorJSON `json:"dropped"`
	Retention      *retentionJSON   `json:"retention,omitempty"`
	RetentionError string           `json:"retention_error,omitempty"`
}

// handleScheduledBackup runs a scheduled backup on demand. Period and
// retention default to the schedule configuration.
func (s *Server) handleScheduledBackup(w http.ResponseWriter, r *http.Request) {
	var req scheduledRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeServiceError(w, r, &backup.ValidationError{Reason: err.Error()})
		return
	}
	if req.Period == "" {
		req.Period = s.config.Schedule.Period
	}
	if req.Retention == 0 {
		req.Retention = s.config.Schedule.Retention
	}
	period, err := backup.ParsePeriod(req.Period)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	run, err := s.service.TriggerScheduledBackup(r.Context(), period, req.Retention)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := scheduledRunJSON{
		Entry:   entryToJSON(run.Entry),
		Dropped: tableErrorsToJSON(run.Dropped),
	}
	if run.Retention != nil {
		rj := &retentionJSON{
			Kept:     run.Retention.Kept,
			Targeted: run.Retention.Targeted,
			Removed:  run.Retention.Removed,
		}
		for _, f := range run.Retention.Failures {
			rj.Failures = append(rj.Failures, f.Error())
		}
		out.Retention = rj
	}
	if run.RetentionErr != nil {
		out.RetentionError = run.RetentionErr.Error()
	}
	writeJSON(w, http.StatusCreated, out)
}

type resetRequest struct {
	Confirm string `json:"confirm"`
}

type tableResetJSON struct {
	Table   string `json:"table"`
	Deleted int64  `json:"deleted"`
	Zeroed  int64  `json:"zeroed"`
	Error   string `json:"error,omitempty"`
}

type resetReportJSON struct {
	SafetyBackupID string           `json:"safety_backup_id"`
	SafetyBackup   catalogEntryJSON `json:"safety_backup"`
	Tables         []tableResetJSON `json:"tables"`
	Failed         int              `json:"failed"`
	DurationMS     int64            `json:"duration_ms"`
}

func (s *Server) handleResetPeriod(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeServiceError(w, r, &backup.ValidationError{Reason: err.Error()})
		return
	}

	report, err := s.service.ResetPeriod(r.Context(), backup.ResetRequest{
		Confirmation: req.Confirm,
		RequestedBy:  adminUser(r),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := resetReportJSON{
		SafetyBackupID: report.SafetyBackupID,
		SafetyBackup:   entryToJSON(report.SafetyBackup),
		Tables:         make([]tableResetJSON, 0, len(report.Tables)),
		Failed:         len(report.Failed()),
		DurationMS:     report.Duration.Milliseconds(),
	}
	for _, t := range report.Tables {
		tr := tableResetJSON{Table: t.Table, Deleted: t.Deleted, Zeroed: t.Zeroed}
		if t.Err != nil {
			tr.Error = t.Err.Err.Error()
		}
		out.Tables = append(out.Tables, tr)
	}
	s.logger.Warn("period reset performed",
		"safety_backup", report.SafetyBackupID,
		"failed", out.Failed,
		"user", adminUser(r))
	writeJSON(w, http.StatusOK, out)
}
