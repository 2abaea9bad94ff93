// Package postgres persists the outbox in PostgreSQL for deployments that run
// more than one processor. Claims use FOR UPDATE SKIP LOCKED.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS domain_events (
	id            BIGSERIAL PRIMARY KEY,
	event_type    VARCHAR(64)  NOT NULL,
	payload       TEXT         NOT NULL,
	status        VARCHAR(16)  NOT NULL,
	retry_count   INTEGER      NOT NULL DEFAULT 0,
	next_run_at   TIMESTAMPTZ,
	error_message TEXT,
	claim_token   VARCHAR(64),
	claimed_at    TIMESTAMPTZ,
	created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	deleted_at    TIMESTAMPTZ,
	deleted_by    VARCHAR(64)
);
CREATE INDEX IF NOT EXISTS idx_domain_events_due ON domain_events (status, next_run_at);
CREATE INDEX IF NOT EXISTS idx_domain_events_created ON domain_events (status, created_at);
`

// Connect opens a pool and checks the server is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the outbox table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// executor is satisfied by *pgxpool.Pool and pgx.Tx.
type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
