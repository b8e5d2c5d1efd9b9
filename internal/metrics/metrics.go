// Package metrics exposes Prometheus counters for backup operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the backup subsystem's collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	BackupsCreated   *prometheus.CounterVec
	TableFailures    *prometheus.CounterVec
	Restores         *prometheus.CounterVec
	RetentionRemoved prometheus.Counter
	PeriodResets     *prometheus.CounterVec
	LastBackupBytes  prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BackupsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "backups_created_total",
			Help:      "Backup artifacts stored in the catalog.",
		}, []string{"trigger", "format"}),
		TableFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "backup_table_failures_total",
			Help:      "Per-table failures during collection, restore and reset.",
		}, []string{"op"}),
		Restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "restores_total",
			Help:      "Backup imports by mode and outcome.",
		}, []string{"mode", "outcome"}),
		RetentionRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "retention_removed_total",
			Help:      "Scheduled backups discarded by retention rotation.",
		}),
		PeriodResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "period_resets_total",
			Help:      "New-period resets by outcome.",
		}, []string{"outcome"}),
		LastBackupBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rollcall",
			Name:      "last_backup_size_bytes",
			Help:      "Size of the most recently stored backup artifact.",
		}),
	}
	m.registry.MustRegister(
		m.BackupsCreated,
		m.TableFailures,
		m.Restores,
		m.RetentionRemoved,
		m.PeriodResets,
		m.LastBackupBytes,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// BackupStored counts a cataloged artifact and records its size.
func (m *Metrics) BackupStored(trigger, format string, size int64) {
	if m == nil {
		return
	}
	m.BackupsCreated.WithLabelValues(trigger, format).Inc()
	m.LastBackupBytes.Set(float64(size))
}

// TableFailed counts one table that failed during op.
func (m *Metrics) TableFailed(op string) {
	if m == nil {
		return
	}
	m.TableFailures.WithLabelValues(op).Inc()
}

// RestoreFinished counts a completed or rejected import by mode and outcome.
func (m *Metrics) RestoreFinished(mode, outcome string) {
	if m == nil {
		return
	}
	m.Restores.WithLabelValues(mode, outcome).Inc()
}

// RetentionDiscarded adds n rotated scheduled backups.
func (m *Metrics) RetentionDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionRemoved.Add(float64(n))
}

// ResetFinished counts a period reset by outcome.
func (m *Metrics) ResetFinished(outcome string) {
	if m == nil {
		return
	}
	m.PeriodResets.WithLabelValues(outcome).Inc()
}
