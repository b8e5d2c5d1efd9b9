package store

import "time"

// CatalogEntry describes a stored backup artifact. The entry and the blob
// under StorageKey are created and discarded together.
type CatalogEntry struct {
	ID             string
	FileName       string
	FileSizeBytes  int64
	FileType       string // "structured" or "tabular"
	StorageKey     string
	DateRangeFrom  time.Time // zero when the backup is not date-bounded
	DateRangeTo    time.Time
	TablesIncluded []string
	CreatedAt      time.Time
	CreatedBy      string
}

// HasDateRange reports whether the backup was restricted to a date window.
func (e CatalogEntry) HasDateRange() bool {
	return !e.DateRangeFrom.IsZero() && !e.DateRangeTo.IsZero()
}
