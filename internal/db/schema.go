package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the dedicated schema, the event table, and the
// partial index claim_one relies on, if they don't already exist. Safe
// to call on every process start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schemaName string) error {
	schemaIdent := pgx.Identifier{schemaName}.Sanitize()
	tableIdent := pgx.Identifier{schemaName, "event"}.Sanitize()
	indexName := pgx.Identifier{schemaName + "_event_due_idx"}.Sanitize()

	_, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+schemaIdent)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableIdent+` (
			id           UUID PRIMARY KEY,
			type         TEXT NOT NULL,
			payload      JSONB NOT NULL DEFAULT '{}'::jsonb,
			source       TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			retry_count  INT NOT NULL DEFAULT 0,
			last_error   TEXT,
			run_at       TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS `+indexName+`
		ON `+tableIdent+` (run_at, id)
		WHERE status = 'pending'
	`)

	return err
}
