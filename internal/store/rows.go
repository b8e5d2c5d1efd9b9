package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BadgerOps/rollcall/internal/row"
)

// ============================================================================
// Program Table Operations
// ============================================================================

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ReadTable returns every row of a table in insertion order.
func (s *Store) ReadTable(ctx context.Context, table string) ([]row.Row, error) {
	if _, err := s.columns(ctx, s.db, table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY rowid", quoteIdent(table))
	return s.queryRows(ctx, query)
}

// ReadTableRange returns rows whose column falls on a day in [from, to].
// Timestamps anywhere on the day of to are included.
func (s *Store) ReadTableRange(ctx context.Context, table, column string, from, to time.Time) ([]row.Row, error) {
	cols, err := s.columns(ctx, s.db, table)
	if err != nil {
		return nil, err
	}
	if !cols[column] {
		return nil, fmt.Errorf("table %s has no column %q", table, column)
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s >= ? AND %s < ? ORDER BY rowid",
		quoteIdent(table), quoteIdent(column), quoteIdent(column))
	lower := from.Format(time.DateOnly)
	upper := to.AddDate(0, 0, 1).Format(time.DateOnly)
	return s.queryRows(ctx, query, lower, upper)
}

// CountRows returns the number of rows in a table.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	if _, err := s.columns(ctx, s.db, table); err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// InsertRows inserts rows into a table in one transaction.
func (s *Store) InsertRows(ctx context.Context, table string, rows []row.Row) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = s.insertRows(ctx, tx, table, rows)
		return err
	})
	return n, err
}

// UpsertRows inserts rows, updating existing rows that share the identity
// column. Rows not present in the input are left alone. The table is
// updated all-or-nothing.
func (s *Store) UpsertRows(ctx context.Context, table, identity string, rows []row.Row) (int, error) {
	var applied int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cols, err := s.columns(ctx, tx, table)
		if err != nil {
			return err
		}
		if !cols[identity] {
			return fmt.Errorf("table %s has no identity column %q", table, identity)
		}

		for i, r := range rows {
			if _, ok := r.Get(identity); !ok {
				return fmt.Errorf("row %d of %s has no %q field", i, table, identity)
			}
			names, args, err := rowArgs(table, cols, r)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}

			var updates []string
			for _, n := range names {
				if n == identity {
					continue
				}
				updates = append(updates, fmt.Sprintf("%s = excluded.%s", quoteIdent(n), quoteIdent(n)))
			}
			conflict := "DO NOTHING"
			if len(updates) > 0 {
				conflict = "DO UPDATE SET " + strings.Join(updates, ", ")
			}

			query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) %s",
				quoteIdent(table), joinIdents(names), placeholders(len(names)), quoteIdent(identity), conflict)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to upsert row %d into %s: %w", i, table, err)
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// ReplaceRows deletes every row of a table and inserts rows in its place,
// in one transaction. On error the table is left as it was.
//
// Foreign keys are checked once the new rows are in, so a parent table can
// be replaced while child rows still point at it, as long as every
// reference resolves afterwards.
func (s *Store) ReplaceRows(ctx context.Context, table string, rows []row.Row) (int64, int, error) {
	var (
		deleted  int64
		inserted int
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Reset by SQLite when the transaction ends.
		if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
			return fmt.Errorf("failed to defer foreign keys: %w", err)
		}
		var err error
		if deleted, err = s.deleteAll(ctx, tx, table); err != nil {
			return err
		}
		if inserted, err = s.insertRows(ctx, tx, table, rows); err != nil {
			return err
		}
		// A deferred violation would fail COMMIT and leave the transaction
		// open, so check before committing and roll back instead.
		return foreignKeyViolations(ctx, tx, table)
	})
	if err != nil {
		return 0, 0, err
	}
	return deleted, inserted, nil
}

// DeleteAllRows removes every row from a table.
func (s *Store) DeleteAllRows(ctx context.Context, table string) (int64, error) {
	return s.deleteAll(ctx, s.db, table)
}

// ZeroColumns sets the given numeric columns to 0 on every row.
func (s *Store) ZeroColumns(ctx context.Context, table string, columns []string) (int64, error) {
	cols, err := s.columns(ctx, s.db, table)
	if err != nil {
		return 0, err
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("no columns to zero in %s", table)
	}

	sets := make([]string, 0, len(columns))
	for _, c := range columns {
		if !cols[c] {
			return 0, fmt.Errorf("table %s has no column %q", table, c)
		}
		sets = append(sets, fmt.Sprintf("%s = 0", quoteIdent(c)))
	}

	query := fmt.Sprintf("UPDATE %s SET %s", quoteIdent(table), strings.Join(sets, ", "))
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to zero %s: %w", table, err)
	}
	return result.RowsAffected()
}

func (s *Store) deleteAll(ctx context.Context, q queryer, table string) (int64, error) {
	if _, err := s.columns(ctx, q, table); err != nil {
		return 0, err
	}
	result, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", quoteIdent(table)))
	if err != nil {
		return 0, fmt.Errorf("failed to delete rows from %s: %w", table, err)
	}
	return result.RowsAffected()
}

func (s *Store) insertRows(ctx context.Context, q queryer, table string, rows []row.Row) (int, error) {
	cols, err := s.columns(ctx, q, table)
	if err != nil {
		return 0, err
	}
	for i, r := range rows {
		names, args, err := rowArgs(table, cols, r)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdent(table), joinIdents(names), placeholders(len(names)))
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("failed to insert row %d into %s: %w", i, table, err)
		}
	}
	return len(rows), nil
}

func (s *Store) queryRows(ctx context.Context, query string, args ...any) ([]row.Row, error) {
	rs, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rs.Close()

	names, err := rs.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	out := []row.Row{}
	for rs.Next() {
		raw := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r := row.Row{Fields: make([]row.Field, len(names))}
		for i, name := range names {
			v, err := row.FromSQL(raw[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", name, err)
			}
			r.Fields[i] = row.Field{Name: name, Value: v}
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// columns returns the column set of a table, failing if the table does not
// exist. Table and column names are checked against it before they are
// interpolated into SQL.
// Columns lists a table's column names in declaration order.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	return s.orderedColumns(ctx, s.db, table)
}

func (s *Store) columns(ctx context.Context, q queryer, table string) (map[string]bool, error) {
	names, err := s.orderedColumns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	cols := make(map[string]bool, len(names))
	for _, name := range names {
		cols[name] = true
	}
	return cols, nil
}

func (s *Store) orderedColumns(ctx context.Context, q queryer, table string) ([]string, error) {
	rs, err := q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rs.Close()

	var names []string
	for rs.Next() {
		var name string
		if err := rs.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
		}
		names = append(names, name)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	return names, nil
}

// foreignKeyViolations fails if any row in the database references a
// missing parent.
func foreignKeyViolations(ctx context.Context, q queryer, table string) error {
	rs, err := q.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("failed to check foreign keys: %w", err)
	}
	defer rs.Close()

	var dangling []string
	for rs.Next() {
		var (
			child  string
			rowID  sql.NullInt64
			parent string
			fkID   int
		)
		if err := rs.Scan(&child, &rowID, &parent, &fkID); err != nil {
			return fmt.Errorf("failed to check foreign keys: %w", err)
		}
		dangling = append(dangling, fmt.Sprintf("%s row %d -> %s", child, rowID.Int64, parent))
	}
	if err := rs.Err(); err != nil {
		return fmt.Errorf("failed to check foreign keys: %w", err)
	}
	if len(dangling) > 0 {
		if len(dangling) > 5 {
			dangling = append(dangling[:5], fmt.Sprintf("and %d more", len(dangling)-5))
		}
		return fmt.Errorf("replacing %s leaves dangling references: %s: %w",
			table, strings.Join(dangling, ", "), ErrForeignKey)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func rowArgs(table string, cols map[string]bool, r row.Row) ([]string, []any, error) {
	if len(r.Fields) == 0 {
		return nil, nil, fmt.Errorf("empty row for %s", table)
	}
	names := make([]string, 0, len(r.Fields))
	args := make([]any, 0, len(r.Fields))
	for _, f := range r.Fields {
		if !cols[f.Name] {
			return nil, nil, fmt.Errorf("table %s has no column %q", table, f.Name)
		}
		names = append(names, f.Name)
		args = append(args, f.Value.SQL())
	}
	return names, args, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
