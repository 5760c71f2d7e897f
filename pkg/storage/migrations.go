package storage

import (
	"database/sql"
	"fmt"
)

var migrations = []string{
	// Migration 1: Initial schema
	`CREATE TABLE IF NOT EXISTS metric_samples (
		id        TEXT PRIMARY KEY,
		name      TEXT NOT NULL,
		value     REAL NOT NULL DEFAULT 0.0,
		kind      TEXT NOT NULL CHECK(kind IN ('counter', 'gauge', 'histogram', 'timer')),
		tags      TEXT DEFAULT '{}',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_samples_name ON metric_samples(name);
	CREATE INDEX IF NOT EXISTS idx_samples_timestamp ON metric_samples(timestamp);

	CREATE TABLE IF NOT EXISTS alerts (
		id               TEXT PRIMARY KEY,
		title            TEXT NOT NULL,
		message          TEXT NOT NULL DEFAULT '',
		level            TEXT NOT NULL CHECK(level IN ('info', 'warning', 'error', 'critical')),
		source           TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL CHECK(status IN ('active', 'acknowledged', 'resolved', 'suppressed')),
		acknowledged_by  TEXT NOT NULL DEFAULT '',
		acknowledged_at  DATETIME,
		resolved_at      DATETIME,
		suppressed_until DATETIME,
		metadata         TEXT DEFAULT '{}',
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_source ON alerts(source);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);

	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
