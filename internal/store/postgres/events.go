package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yidafu/AquaRush-sub000/internal/event"
	"github.com/yidafu/AquaRush-sub000/internal/outbox"
)

const eventColumns = `id, event_type, payload, status, retry_count, next_run_at,
	COALESCE(error_message, ''), COALESCE(claim_token, ''), claimed_at, created_at, updated_at,
	deleted_at, COALESCE(deleted_by, '')`

// EventStore implements outbox.Store on PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ outbox.Store = (*EventStore)(nil)

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) executor(ctx context.Context) executor {
	if tx := TxFrom(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// Append implements outbox.Store. Inside TxManager.WithinTransaction the
// insert joins the caller's transaction.
func (s *EventStore) Append(ctx context.Context, rec *event.Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.NextRunAt == nil {
		t := rec.CreatedAt
		rec.NextRunAt = &t
	}
	if rec.Payload == "" {
		rec.Payload = "{}"
	}
	rec.Status = event.StatusPending
	rec.ClaimToken, rec.ClaimedAt = "", nil

	const q = `
		INSERT INTO domain_events (event_type, payload, status, retry_count, next_run_at, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := s.executor(ctx).QueryRow(ctx, q,
		string(rec.Type), rec.Payload, string(rec.Status), rec.RetryCount, rec.NextRunAt,
		nullIfEmpty(rec.ErrorMessage), rec.CreatedAt, rec.UpdatedAt).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// FindDue implements outbox.Store.
func (s *EventStore) FindDue(ctx context.Context, now time.Time, limit int) ([]*event.Record, error) {
	q := `
		SELECT ` + eventColumns + ` FROM domain_events
		WHERE status = 'PENDING' AND deleted_at IS NULL AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY next_run_at NULLS FIRST, id
	`
	args := []any{now}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find due events: %w", err)
	}
	return scanRecords(rows)
}

// ClaimNext implements outbox.Store. SKIP LOCKED lets concurrent pollers
// pass over a row another instance is claiming instead of waiting on it.
func (s *EventStore) ClaimNext(ctx context.Context, now time.Time, token string) (*event.Record, bool, error) {
	const q = `
		WITH next AS (
			SELECT id FROM domain_events
			WHERE status = 'PENDING' AND deleted_at IS NULL AND (next_run_at IS NULL OR next_run_at <= $1)
			ORDER BY next_run_at NULLS FIRST, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE domain_events
		SET status = 'PROCESSING', claim_token = $2, claimed_at = $1, updated_at = $1
		WHERE id IN (SELECT id FROM next)
		RETURNING ` + eventColumns
	return claimed(s.pool.QueryRow(ctx, q, now, token), "claim next event")
}

// Claim implements outbox.Store.
func (s *EventStore) Claim(ctx context.Context, id int64, token string, now time.Time) (*event.Record, bool, error) {
	const q = `
		UPDATE domain_events
		SET status = 'PROCESSING', claim_token = $2, claimed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'PENDING' AND deleted_at IS NULL
		  AND (next_run_at IS NULL OR next_run_at <= $3)
		RETURNING ` + eventColumns
	return claimed(s.pool.QueryRow(ctx, q, id, token, now), fmt.Sprintf("claim event %d", id))
}

// ReclaimStale implements outbox.Store.
func (s *EventStore) ReclaimStale(ctx context.Context, claimedBefore time.Time, token string, now time.Time) (*event.Record, bool, error) {
	const q = `
		WITH stale AS (
			SELECT id FROM domain_events
			WHERE status = 'PROCESSING' AND deleted_at IS NULL
			  AND (claimed_at IS NULL OR claimed_at < $1)
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE domain_events
		SET claim_token = $2, claimed_at = $3, updated_at = $3
		WHERE id IN (SELECT id FROM stale)
		RETURNING ` + eventColumns
	return claimed(s.pool.QueryRow(ctx, q, claimedBefore, token, now), "reclaim stale event")
}

// Save implements outbox.Store.
func (s *EventStore) Save(ctx context.Context, rec *event.Record) error {
	const q = `
		UPDATE domain_events
		SET status = $2, retry_count = $3, next_run_at = $4, error_message = $5, updated_at = $6,
		    claim_token = NULL, claimed_at = NULL
		WHERE id = $1 AND status = 'PROCESSING' AND claim_token = $7
	`
	tag, err := s.pool.Exec(ctx, q, rec.ID, string(rec.Status), rec.RetryCount, rec.NextRunAt,
		nullIfEmpty(rec.ErrorMessage), rec.UpdatedAt, rec.ClaimToken)
	if err != nil {
		return fmt.Errorf("save event %d: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return outbox.ErrClaimLost
	}
	rec.ClaimToken, rec.ClaimedAt = "", nil
	return nil
}

// DeleteCompletedOlderThan implements outbox.Store.
func (s *EventStore) DeleteCompletedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM domain_events WHERE status = 'COMPLETED' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete completed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get implements outbox.Store.
func (s *EventStore) Get(ctx context.Context, id int64) (*event.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM domain_events WHERE id = $1 AND deleted_at IS NULL`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, event.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}
	return rec, nil
}

// List implements outbox.Store.
func (s *EventStore) List(ctx context.Context, status event.Status, limit int) ([]*event.Record, error) {
	q := `
		SELECT ` + eventColumns + ` FROM domain_events
		WHERE deleted_at IS NULL AND ($1::text = '' OR status = $1::text)
		ORDER BY id DESC
	`
	args := []any{string(status)}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return scanRecords(rows)
}

// CountByStatus implements outbox.Store.
func (s *EventStore) CountByStatus(ctx context.Context) (map[event.Status]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM domain_events WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[event.Status]int64)
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[event.Status(st)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	return counts, nil
}

func scanRecord(row pgx.Row) (*event.Record, error) {
	var rec event.Record
	var typ, status string
	err := row.Scan(&rec.ID, &typ, &rec.Payload, &status, &rec.RetryCount, &rec.NextRunAt,
		&rec.ErrorMessage, &rec.ClaimToken, &rec.ClaimedAt, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.DeletedAt, &rec.DeletedBy)
	if err != nil {
		return nil, err
	}
	rec.Type = event.Type(typ)
	rec.Status = event.Status(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func scanRecords(rows pgx.Rows) ([]*event.Record, error) {
	defer rows.Close()
	var out []*event.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func claimed(row pgx.Row, op string) (*event.Record, bool, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return rec, true, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
