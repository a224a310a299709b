// Package db opens the Postgres pool and owns the engine schema.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open connects with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string, maxConns, maxIdle int) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		conn.SetMaxOpenConns(maxConns)
	}
	if maxIdle > 0 {
		conn.SetMaxIdleConns(maxIdle)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// Schema is applied in order by Migrate. Every statement is idempotent.
// executors and work_requests are owned by the surrounding platform; the
// engine only creates them so a fresh database is usable.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS executors (
		id              TEXT PRIMARY KEY,
		full_name       TEXT NOT NULL DEFAULT '',
		roles           TEXT[] NOT NULL DEFAULT '{}',
		approval_status TEXT NOT NULL DEFAULT 'pending',
		specializations TEXT[] NOT NULL DEFAULT '{}',
		rating          DOUBLE PRECISION,
		home_zone       TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS shift_templates (
		id                   TEXT PRIMARY KEY,
		name                 TEXT NOT NULL,
		start_time           TEXT NOT NULL,
		duration_seconds     BIGINT NOT NULL CHECK (duration_seconds > 0),
		specializations      TEXT[] NOT NULL DEFAULT '{}',
		coverage_areas       TEXT[] NOT NULL DEFAULT '{}',
		zone                 TEXT NOT NULL DEFAULT '',
		min_executors        INT NOT NULL DEFAULT 1,
		max_executors        INT NOT NULL DEFAULT 1,
		default_max_requests INT NOT NULL DEFAULT 0,
		priority             INT NOT NULL DEFAULT 3 CHECK (priority BETWEEN 1 AND 5),
		days_of_week         SMALLINT NOT NULL DEFAULT 0,
		auto_create          BOOLEAN NOT NULL DEFAULT false,
		advance_days         INT NOT NULL DEFAULT 0,
		is_active            BOOLEAN NOT NULL DEFAULT true,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS shifts (
		id                      TEXT PRIMARY KEY,
		planned_start           TIMESTAMPTZ NOT NULL,
		planned_end             TIMESTAMPTZ NOT NULL,
		actual_start            TIMESTAMPTZ,
		actual_end              TIMESTAMPTZ,
		status                  TEXT NOT NULL,
		executor_id             TEXT REFERENCES executors (id),
		template_id             TEXT REFERENCES shift_templates (id),
		specializations         TEXT[] NOT NULL DEFAULT '{}',
		coverage_areas          TEXT[] NOT NULL DEFAULT '{}',
		zone                    TEXT NOT NULL DEFAULT '',
		max_requests            INT NOT NULL DEFAULT 0,
		current_request_count   INT NOT NULL DEFAULT 0,
		priority                INT NOT NULL DEFAULT 3 CHECK (priority BETWEEN 1 AND 5),
		completed_requests      INT NOT NULL DEFAULT 0,
		average_completion_time DOUBLE PRECISION NOT NULL DEFAULT 0,
		average_response_time   DOUBLE PRECISION NOT NULL DEFAULT 0,
		efficiency_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
		quality_rating          DOUBLE PRECISION NOT NULL DEFAULT 0,
		reminder_sent_at        TIMESTAMPTZ,
		created_at              TIMESTAMPTZ NOT NULL,
		updated_at              TIMESTAMPTZ NOT NULL,
		CHECK (planned_end > planned_start),
		CHECK (current_request_count BETWEEN 0 AND max_requests)
	)`,
	`CREATE INDEX IF NOT EXISTS shifts_executor_start_idx ON shifts (executor_id, planned_start)`,
	`CREATE INDEX IF NOT EXISTS shifts_start_status_idx ON shifts (planned_start, status)`,
	`CREATE INDEX IF NOT EXISTS shifts_template_idx ON shifts (template_id)`,
	`CREATE TABLE IF NOT EXISTS shift_transfers (
		id               TEXT PRIMARY KEY,
		shift_id         TEXT NOT NULL REFERENCES shifts (id) ON DELETE CASCADE,
		from_executor_id TEXT NOT NULL,
		to_executor_id   TEXT,
		status           TEXT NOT NULL,
		reason           TEXT NOT NULL,
		comment          TEXT NOT NULL DEFAULT '',
		urgency          TEXT NOT NULL DEFAULT 'normal',
		created_at       TIMESTAMPTZ NOT NULL,
		assigned_at      TIMESTAMPTZ,
		responded_at     TIMESTAMPTZ,
		completed_at     TIMESTAMPTZ,
		updated_at       TIMESTAMPTZ NOT NULL,
		auto_assigned    BOOLEAN NOT NULL DEFAULT false,
		retry_count      INT NOT NULL DEFAULT 0,
		max_retries      INT NOT NULL DEFAULT 3,
		CHECK (to_executor_id IS NULL OR to_executor_id <> from_executor_id)
	)`,
	`CREATE INDEX IF NOT EXISTS shift_transfers_status_idx ON shift_transfers (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS work_requests (
		id             TEXT PRIMARY KEY,
		specialization TEXT NOT NULL DEFAULT '',
		priority       INT NOT NULL DEFAULT 3,
		location       TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'new',
		executor_id    TEXT,
		shift_id       TEXT REFERENCES shifts (id) ON DELETE SET NULL,
		assigned_at    TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS work_requests_status_idx ON work_requests (status, executor_id)`,
	`CREATE TABLE IF NOT EXISTS assignment_records (
		id                   TEXT PRIMARY KEY,
		shift_id             TEXT NOT NULL,
		executor_id          TEXT NOT NULL,
		previous_executor_id TEXT,
		score                DOUBLE PRECISION NOT NULL,
		reasons              TEXT[] NOT NULL DEFAULT '{}',
		conflict_count       INT NOT NULL DEFAULT 0,
		strategy             TEXT NOT NULL,
		assigned_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS assignment_records_shift_idx ON assignment_records (shift_id, assigned_at)`,
}

// Migrate applies Schema in one transaction.
func Migrate(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()
	for i, stmt := range Schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}
