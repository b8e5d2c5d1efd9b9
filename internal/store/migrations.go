package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("Current schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE settings (
					id INTEGER PRIMARY KEY,
					key TEXT NOT NULL UNIQUE,
					value TEXT
				);

				CREATE TABLE point_rules (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					points INTEGER NOT NULL DEFAULT 0
				);

				CREATE TABLE teachers (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					phone TEXT,
					active INTEGER NOT NULL DEFAULT 1
				);

				CREATE TABLE circles (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					teacher_id INTEGER,
					FOREIGN KEY(teacher_id) REFERENCES teachers(id)
				);

				CREATE TABLE students (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					circle_id INTEGER,
					guardian_phone TEXT,
					enrolled_on TEXT,
					active INTEGER NOT NULL DEFAULT 1,
					FOREIGN KEY(circle_id) REFERENCES circles(id)
				);

				CREATE TABLE tools (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					quantity INTEGER NOT NULL DEFAULT 0
				);

				CREATE TABLE activity_log (
					id INTEGER PRIMARY KEY,
					actor TEXT,
					action TEXT NOT NULL,
					created_at TEXT NOT NULL
				);

				CREATE TABLE attendance (
					id INTEGER PRIMARY KEY,
					student_id INTEGER NOT NULL,
					date TEXT NOT NULL,
					status TEXT NOT NULL,
					note TEXT,
					FOREIGN KEY(student_id) REFERENCES students(id)
				);

				CREATE TABLE teacher_attendance (
					id INTEGER PRIMARY KEY,
					teacher_id INTEGER NOT NULL,
					date TEXT NOT NULL,
					status TEXT NOT NULL,
					FOREIGN KEY(teacher_id) REFERENCES teachers(id)
				);

				CREATE TABLE recitations (
					id INTEGER PRIMARY KEY,
					student_id INTEGER NOT NULL,
					date TEXT NOT NULL,
					surah TEXT,
					from_ayah INTEGER,
					to_ayah INTEGER,
					grade TEXT,
					FOREIGN KEY(student_id) REFERENCES students(id)
				);

				CREATE TABLE points_log (
					id INTEGER PRIMARY KEY,
					student_id INTEGER NOT NULL,
					date TEXT NOT NULL,
					points INTEGER NOT NULL,
					reason TEXT,
					FOREIGN KEY(student_id) REFERENCES students(id)
				);

				CREATE TABLE point_totals (
					id INTEGER PRIMARY KEY,
					student_id INTEGER NOT NULL UNIQUE,
					total_points INTEGER NOT NULL DEFAULT 0,
					FOREIGN KEY(student_id) REFERENCES students(id)
				);

				CREATE TABLE tool_loans (
					id INTEGER PRIMARY KEY,
					tool_id INTEGER NOT NULL,
					student_id INTEGER,
					loaned_on TEXT NOT NULL,
					returned_on TEXT,
					FOREIGN KEY(tool_id) REFERENCES tools(id),
					FOREIGN KEY(student_id) REFERENCES students(id)
				);

				CREATE INDEX idx_attendance_date ON attendance(date);
				CREATE INDEX idx_teacher_attendance_date ON teacher_attendance(date);
				CREATE INDEX idx_recitations_date ON recitations(date);
				CREATE INDEX idx_points_log_date ON points_log(date);
				CREATE INDEX idx_tool_loans_loaned_on ON tool_loans(loaned_on);
				CREATE INDEX idx_activity_log_created_at ON activity_log(created_at);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE backup_catalog (
					id TEXT PRIMARY KEY,
					file_name TEXT NOT NULL UNIQUE,
					file_size_bytes INTEGER NOT NULL DEFAULT 0,
					file_type TEXT NOT NULL,
					storage_key TEXT NOT NULL UNIQUE,
					date_range_from TEXT,
					date_range_to TEXT,
					tables_included TEXT NOT NULL,
					created_at TEXT NOT NULL,
					created_by TEXT NOT NULL
				);

				CREATE INDEX idx_backup_catalog_created_at ON backup_catalog(created_at);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("Running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}

			s.logger.Info("Migration completed", "version", mig.version)
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	insertSQL := "INSERT INTO migrations (version) VALUES (?)"
	if _, err := tx.Exec(insertSQL, version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
