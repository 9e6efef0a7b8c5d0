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
				CREATE TABLE health_rounds (
					id TEXT PRIMARY KEY,
					started_at DATETIME NOT NULL,
					finished_at DATETIME NOT NULL,
					endpoints INTEGER DEFAULT 0,
					available INTEGER DEFAULT 0
				);

				CREATE TABLE health_results (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					round_id TEXT NOT NULL,
					rank INTEGER NOT NULL,
					base_url TEXT NOT NULL,
					priority INTEGER DEFAULT 0,
					available BOOLEAN DEFAULT 0,
					response_time_ms INTEGER DEFAULT 0,
					method TEXT,
					error TEXT,
					checked_at DATETIME NOT NULL,
					UNIQUE(round_id, rank),
					FOREIGN KEY(round_id) REFERENCES health_rounds(id)
				);

				CREATE INDEX idx_health_rounds_finished ON health_rounds(finished_at);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Debug("Running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}
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
