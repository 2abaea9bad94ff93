package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yidafu/AquaRush-sub000/internal/event"
	"github.com/yidafu/AquaRush-sub000/internal/outbox"
)

const eventColumns = `id, event_type, payload, status, retry_count, next_run_at, error_message,
	claim_token, claimed_at, created_at, updated_at, deleted_at, deleted_by`

const dueFilter = `status = 'PENDING' AND deleted_at IS NULL AND (next_run_at IS NULL OR next_run_at <= ?)`

// EventStore implements outbox.Store on SQLite. Claims are single
// conditional UPDATE ... RETURNING statements, so two processes sharing the
// file can never both claim a record.
type EventStore struct {
	db *DB
}

var _ outbox.Store = (*EventStore)(nil)

func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Append implements outbox.Store.
func (s *EventStore) Append(ctx context.Context, rec *event.Record) error {
	return appendEvent(ctx, s.db.db, rec)
}

// appendEvent inserts rec through q, so business writers can add the
// record inside their own transaction.
func appendEvent(ctx context.Context, q queryer, rec *event.Record) error {
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

	err := q.QueryRowContext(ctx, `
		INSERT INTO domain_events (event_type, payload, status, retry_count, next_run_at, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, string(rec.Type), rec.Payload, string(rec.Status), rec.RetryCount, nullNanos(rec.NextRunAt),
		nullString(rec.ErrorMessage), toNanos(rec.CreatedAt), toNanos(rec.UpdatedAt)).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// FindDue implements outbox.Store.
func (s *EventStore) FindDue(ctx context.Context, now time.Time, limit int) ([]*event.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM domain_events
		WHERE `+dueFilter+`
		ORDER BY next_run_at, id
		LIMIT ?
	`, toNanos(now), limit)
	if err != nil {
		return nil, fmt.Errorf("find due events: %w", err)
	}
	return scanRecords(rows)
}

// ClaimNext implements outbox.Store.
func (s *EventStore) ClaimNext(ctx context.Context, now time.Time, token string) (*event.Record, bool, error) {
	row := s.db.db.QueryRowContext(ctx, `
		UPDATE domain_events
		SET status = 'PROCESSING', claim_token = ?, claimed_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM domain_events
			WHERE `+dueFilter+`
			ORDER BY next_run_at, id
			LIMIT 1
		) AND status = 'PENDING'
		RETURNING `+eventColumns,
		token, toNanos(now), toNanos(now), toNanos(now))
	return claimed(row, "claim next event")
}

// Claim implements outbox.Store.
func (s *EventStore) Claim(ctx context.Context, id int64, token string, now time.Time) (*event.Record, bool, error) {
	row := s.db.db.QueryRowContext(ctx, `
		UPDATE domain_events
		SET status = 'PROCESSING', claim_token = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND `+dueFilter+`
		RETURNING `+eventColumns,
		token, toNanos(now), toNanos(now), id, toNanos(now))
	return claimed(row, fmt.Sprintf("claim event %d", id))
}

// ReclaimStale implements outbox.Store.
func (s *EventStore) ReclaimStale(ctx context.Context, claimedBefore time.Time, token string, now time.Time) (*event.Record, bool, error) {
	row := s.db.db.QueryRowContext(ctx, `
		UPDATE domain_events
		SET claim_token = ?, claimed_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM domain_events
			WHERE status = 'PROCESSING' AND deleted_at IS NULL
			  AND (claimed_at IS NULL OR claimed_at < ?)
			ORDER BY id
			LIMIT 1
		) AND status = 'PROCESSING'
		RETURNING `+eventColumns,
		token, toNanos(now), toNanos(now), toNanos(claimedBefore))
	return claimed(row, "reclaim stale event")
}

// Save implements outbox.Store.
func (s *EventStore) Save(ctx context.Context, rec *event.Record) error {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE domain_events
		SET status = ?, retry_count = ?, next_run_at = ?, error_message = ?, updated_at = ?,
		    claim_token = NULL, claimed_at = NULL
		WHERE id = ? AND status = 'PROCESSING' AND claim_token = ?
	`, string(rec.Status), rec.RetryCount, nullNanos(rec.NextRunAt), nullString(rec.ErrorMessage),
		toNanos(rec.UpdatedAt), rec.ID, rec.ClaimToken)
	if err != nil {
		return fmt.Errorf("save event %d: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save event %d: %w", rec.ID, err)
	}
	if n == 0 {
		return outbox.ErrClaimLost
	}
	rec.ClaimToken, rec.ClaimedAt = "", nil
	return nil
}

// DeleteCompletedOlderThan implements outbox.Store.
func (s *EventStore) DeleteCompletedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.db.ExecContext(ctx, `
		DELETE FROM domain_events WHERE status = 'COMPLETED' AND created_at < ?
	`, toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete completed events: %w", err)
	}
	return res.RowsAffected()
}

// Get implements outbox.Store.
func (s *EventStore) Get(ctx context.Context, id int64) (*event.Record, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM domain_events WHERE id = ? AND deleted_at IS NULL
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, event.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}
	return rec, nil
}

// List implements outbox.Store.
func (s *EventStore) List(ctx context.Context, status event.Status, limit int) ([]*event.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM domain_events
		WHERE deleted_at IS NULL AND (? = '' OR status = ?)
		ORDER BY id DESC
		LIMIT ?
	`, string(status), string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return scanRecords(rows)
}

// CountByStatus implements outbox.Store.
func (s *EventStore) CountByStatus(ctx context.Context) (map[event.Status]int64, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM domain_events WHERE deleted_at IS NULL GROUP BY status
	`)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*event.Record, error) {
	var (
		rec                             event.Record
		typ, status                     string
		nextRunAt, claimedAt, deletedAt sql.NullInt64
		errMsg, token, deletedBy        sql.NullString
		createdAt, updatedAt            int64
	)
	err := row.Scan(&rec.ID, &typ, &rec.Payload, &status, &rec.RetryCount, &nextRunAt, &errMsg,
		&token, &claimedAt, &createdAt, &updatedAt, &deletedAt, &deletedBy)
	if err != nil {
		return nil, err
	}
	rec.Type = event.Type(typ)
	rec.Status = event.Status(status)
	rec.NextRunAt = timePtr(nextRunAt)
	rec.ErrorMessage = errMsg.String
	rec.ClaimToken = token.String
	rec.ClaimedAt = timePtr(claimedAt)
	rec.CreatedAt = fromNanos(createdAt)
	rec.UpdatedAt = fromNanos(updatedAt)
	rec.DeletedAt = timePtr(deletedAt)
	rec.DeletedBy = deletedBy.String
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*event.Record, error) {
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

func claimed(row *sql.Row, op string) (*event.Record, bool, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return rec, true, nil
}
