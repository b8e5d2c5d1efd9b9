package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a catalog entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a catalog entry's file name or storage
	// key is already taken.
	ErrDuplicate = errors.New("already exists")
	// ErrForeignKey is returned when a write would leave a reference to a
	// missing row.
	ErrForeignKey = errors.New("foreign key violation")
)

// timestampLayout is fixed-width so lexical order matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store provides SQLite-backed persistence for the program tables and
// the backup catalog.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if isMemory(dbPath) {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Store initialized successfully", "path", dbPath)
	return s, nil
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

// dsn appends the connection pragmas every connection needs.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Backup Catalog Operations
// ============================================================================

// CreateCatalogEntry inserts a catalog row, assigning an ID and creation
// time when they are unset.
func (s *Store) CreateCatalogEntry(ctx context.Context, e *CatalogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	tablesJSON, err := json.Marshal(e.TablesIncluded)
	if err != nil {
		return fmt.Errorf("failed to encode tables included: %w", err)
	}

	const query = `
		INSERT INTO backup_catalog (
			id, file_name, file_size_bytes, file_type, storage_key,
			date_range_from, date_range_to, tables_included, created_at, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.FileName, e.FileSizeBytes, e.FileType, e.StorageKey,
		nullableDate(e.DateRangeFrom), nullableDate(e.DateRangeTo),
		string(tablesJSON), e.CreatedAt.Format(timestampLayout), e.CreatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("catalog entry %s: %w", e.FileName, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert catalog entry: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// GetCatalogEntry retrieves a catalog entry by ID
func (s *Store) GetCatalogEntry(ctx context.Context, id string) (*CatalogEntry, error) {
	const query = `
		SELECT id, file_name, file_size_bytes, file_type, storage_key,
		       date_range_from, date_range_to, tables_included, created_at, created_by
		FROM backup_catalog WHERE id = ?
	`

	e, err := scanCatalogEntry(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("catalog entry %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query catalog entry: %w", err)
	}
	return e, nil
}

// ListCatalogEntries returns entries newest first. A non-empty prefix
// restricts the listing to file names starting with it.
func (s *Store) ListCatalogEntries(ctx context.Context, prefix string) ([]CatalogEntry, error) {
	query := `
		SELECT id, file_name, file_size_bytes, file_type, storage_key,
		       date_range_from, date_range_to, tables_included, created_at, created_by
		FROM backup_catalog
	`
	var args []interface{}

	if prefix != "" {
		query += " WHERE substr(file_name, 1, length(?)) = ?"
		args = append(args, prefix, prefix)
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog entries: %w", err)
	}
	defer rows.Close()

	var entries []CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		entries = append(entries, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog entries: %w", err)
	}

	return entries, nil
}

// DeleteCatalogEntry removes a catalog entry by ID
func (s *Store) DeleteCatalogEntry(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM backup_catalog WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete catalog entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("catalog entry %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCatalogEntry(sc rowScanner) (*CatalogEntry, error) {
	var (
		e          CatalogEntry
		from, to   sql.NullString
		tablesJSON string
		createdAt  string
	)
	if err := sc.Scan(
		&e.ID, &e.FileName, &e.FileSizeBytes, &e.FileType, &e.StorageKey,
		&from, &to, &tablesJSON, &createdAt, &e.CreatedBy,
	); err != nil {
		return nil, err
	}

	var err error
	if e.DateRangeFrom, err = parseNullableDate(from); err != nil {
		return nil, err
	}
	if e.DateRangeTo, err = parseNullableDate(to); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tablesJSON), &e.TablesIncluded); err != nil {
		return nil, fmt.Errorf("decoding tables_included: %w", err)
	}
	if e.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &e, nil
}

func nullableDate(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.DateOnly)
}

func parseNullableDate(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, ns.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", ns.String, err)
	}
	return t, nil
}
