// Package sqlite persists the outbox and the order tables in an embedded
// SQLite database. It is suitable for single-node production use.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS domain_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type    TEXT    NOT NULL,
	payload       TEXT    NOT NULL,
	status        TEXT    NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	next_run_at   INTEGER,
	error_message TEXT,
	claim_token   TEXT,
	claimed_at    INTEGER,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	deleted_at    INTEGER,
	deleted_by    TEXT
);
CREATE INDEX IF NOT EXISTS idx_domain_events_due ON domain_events(status, next_run_at);
CREATE INDEX IF NOT EXISTS idx_domain_events_created ON domain_events(status, created_at);

CREATE TABLE IF NOT EXISTS orders (
	id                     INTEGER PRIMARY KEY,
	order_number           TEXT    NOT NULL UNIQUE,
	user_id                INTEGER NOT NULL,
	product_id             INTEGER NOT NULL,
	address_id             INTEGER NOT NULL,
	amount                 INTEGER NOT NULL,
	status                 TEXT    NOT NULL,
	delivery_worker_id     INTEGER,
	payment_transaction_id TEXT,
	updated_at             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS addresses (
	id       INTEGER PRIMARY KEY,
	user_id  INTEGER NOT NULL,
	province TEXT    NOT NULL DEFAULT '',
	city     TEXT    NOT NULL DEFAULT '',
	district TEXT    NOT NULL DEFAULT '',
	detail   TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS delivery_workers (
	id        INTEGER PRIMARY KEY,
	name      TEXT    NOT NULL,
	phone     TEXT    NOT NULL DEFAULT '',
	is_online INTEGER NOT NULL DEFAULT 0
);
`

// DB is an open database with the schema applied.
type DB struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database. Safe to call more than once.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Timestamps are stored as UTC unix nanoseconds so they compare and sort as integers.
func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
