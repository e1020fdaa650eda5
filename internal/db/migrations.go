package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var migrations = map[string][]string{
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS run_records (
			run_id                 TEXT PRIMARY KEY,
			activity_id            TEXT NOT NULL,
			task_kind              TEXT NOT NULL,
			model_id               TEXT NOT NULL,
			provider               TEXT NOT NULL,
			budget                 INTEGER NOT NULL,
			reasoning_mode         BOOLEAN NOT NULL,
			tokens_used            INTEGER NOT NULL,
			finish_reason          TEXT NOT NULL,
			status                 TEXT NOT NULL,
			error_message          TEXT NOT NULL,
			latency_ms             BIGINT NOT NULL,
			repaired               BOOLEAN NOT NULL,
			estimated_input_tokens INTEGER NOT NULL,
			cost_usd               DOUBLE PRECISION NOT NULL,
			metadata               JSONB,
			created_at             TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_records_activity ON run_records (activity_id, created_at DESC)`,
	},
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS run_records (
			run_id                 TEXT PRIMARY KEY,
			activity_id            TEXT NOT NULL,
			task_kind              TEXT NOT NULL,
			model_id               TEXT NOT NULL,
			provider               TEXT NOT NULL,
			budget                 INTEGER NOT NULL,
			reasoning_mode         BOOLEAN NOT NULL,
			tokens_used            INTEGER NOT NULL,
			finish_reason          TEXT NOT NULL,
			status                 TEXT NOT NULL,
			error_message          TEXT NOT NULL,
			latency_ms             INTEGER NOT NULL,
			repaired               BOOLEAN NOT NULL,
			estimated_input_tokens INTEGER NOT NULL,
			cost_usd               REAL NOT NULL,
			metadata               TEXT,
			created_at             TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_records_activity ON run_records (activity_id, created_at DESC)`,
	},
}

// Migrate creates the run_records table for the connection's driver.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, ok := migrations[db.DriverName()]
	if !ok {
		return fmt.Errorf("no migrations for driver %q", db.DriverName())
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", db.DriverName(), err)
		}
	}
	return nil
}
