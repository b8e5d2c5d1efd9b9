package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/BadgerOps/rollcall/internal/store"
)

// ArtifactStore keeps each artifact's blob and catalog entry paired.
type ArtifactStore struct {
	catalog Catalog
	blobs   BlobStore
	logger  *slog.Logger
}

// NewArtifactStore creates an artifact store.
func NewArtifactStore(catalog Catalog, blobs BlobStore, logger *slog.Logger) *ArtifactStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactStore{catalog: catalog, blobs: blobs, logger: logger}
}

// StorageKey derives the blob key for an artifact name created at t.
func StorageKey(name string, t time.Time) string {
	t = t.UTC()
	return path.Join("backups", t.Format("2006"), t.Format("01"), name)
}

// Save uploads the artifact and then records its catalog entry. If the
// entry cannot be recorded the uploaded blob is removed before the error
// is returned, so neither half outlives the other.
func (a *ArtifactStore) Save(ctx context.Context, art *Artifact, meta SaveMetadata) (*store.CatalogEntry, error) {
	if art == nil || len(art.Data) == 0 {
		return nil, invalid("artifact", "artifact is empty")
	}
	if strings.ContainsAny(art.Name, "/\\") || art.Name == "" {
		return nil, invalid("file_name", "invalid artifact name %q", art.Name)
	}
	created := art.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	key := StorageKey(art.Name, created)

	if err := a.blobs.Put(ctx, key, art.Data); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, art.Name)
		}
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	tablesIncluded := meta.Tables
	if len(tablesIncluded) == 0 {
		tablesIncluded = art.Tables
	}
	entry := &store.CatalogEntry{
		FileName:       art.Name,
		FileSizeBytes:  int64(len(art.Data)),
		FileType:       string(art.Format),
		StorageKey:     key,
		DateRangeFrom:  meta.DateFrom,
		DateRangeTo:    meta.DateTo,
		TablesIncluded: tablesIncluded,
		CreatedAt:      created,
		CreatedBy:      meta.CreatedBy,
	}
	if err := a.catalog.CreateCatalogEntry(ctx, entry); err != nil {
		// The cleanup must run even if the caller's context is done.
		cleanupErr := a.blobs.Delete(context.WithoutCancel(ctx), key)
		if cleanupErr != nil {
			a.logger.Error("orphaned blob left after failed catalog insert",
				"key", key, "error", err, "cleanup_error", cleanupErr)
		} else {
			a.logger.Warn("removed blob after failed catalog insert", "key", key, "error", err)
		}
		if cleanupErr == nil && errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, art.Name)
		}
		return nil, &ConsistencyError{Op: "save", StorageKey: key, Err: err, CleanupErr: cleanupErr}
	}

	a.logger.Info("backup saved",
		"id", entry.ID,
		"file", entry.FileName,
		"size", entry.FileSizeBytes,
		"tables", len(entry.TablesIncluded))
	return entry, nil
}

// Get returns one catalog entry.
func (a *ArtifactStore) Get(ctx context.Context, id string) (*store.CatalogEntry, error) {
	entry, err := a.catalog.GetCatalogEntry(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up backup %s: %w", id, err)
	}
	return entry, nil
}

// Fetch returns a cataloged artifact's bytes.
func (a *ArtifactStore) Fetch(ctx context.Context, id string) (*Artifact, *store.CatalogEntry, error) {
	entry, err := a.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := a.blobs.Get(ctx, entry.StorageKey)
	if err != nil {
		return nil, nil, &ConsistencyError{Op: "fetch", StorageKey: entry.StorageKey, Err: err}
	}
	return &Artifact{
		Format:    Format(entry.FileType),
		Name:      entry.FileName,
		Data:      data,
		SizeBytes: int64(len(data)),
		CreatedAt: entry.CreatedAt,
		Tables:    entry.TablesIncluded,
	}, entry, nil
}

// List returns entries newest first, optionally restricted to a file name
// prefix.
func (a *ArtifactStore) List(ctx context.Context, prefix string) ([]store.CatalogEntry, error) {
	entries, err := a.catalog.ListCatalogEntries(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	return entries, nil
}

// Discard deletes the blob and then the catalog entry. If the blob cannot
// be deleted the entry is kept.
func (a *ArtifactStore) Discard(ctx context.Context, id string) error {
	entry, err := a.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := a.blobs.Delete(ctx, entry.StorageKey); err != nil {
		return &ConsistencyError{Op: "discard", StorageKey: entry.StorageKey, Err: err}
	}
	if err := a.catalog.DeleteCatalogEntry(ctx, id); err != nil {
		a.logger.Error("catalog entry left pointing at deleted blob",
			"id", id, "key", entry.StorageKey, "error", err)
		return &ConsistencyError{Op: "discard", StorageKey: entry.StorageKey, Err: err}
	}
	a.logger.Info("backup discarded", "id", id, "file", entry.FileName)
	return nil
}
