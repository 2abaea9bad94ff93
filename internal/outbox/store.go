// Package outbox drives persisted event records to their handlers: claiming,
// dispatching, retrying with a fixed backoff table, and sweeping old results.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/yidafu/AquaRush-sub000/internal/event"
)

// ErrClaimLost means the record is no longer held under the caller's claim token.
var ErrClaimLost = errors.New("outbox: claim lost")

// Store is durable access to event records. Implementations must be safe for
// concurrent use and must make every Claim* method an atomic conditional update.
type Store interface {
	// Append inserts rec as PENDING and fills in ID and timestamps.
	Append(ctx context.Context, rec *event.Record) error

	// FindDue lists PENDING records whose next run is unset or not after now,
	// ordered by next run time then id.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*event.Record, error)

	// ClaimNext moves the oldest due record to PROCESSING under token.
	ClaimNext(ctx context.Context, now time.Time, token string) (*event.Record, bool, error)

	// Claim moves one specific record to PROCESSING if it is still PENDING and due.
	Claim(ctx context.Context, id int64, token string, now time.Time) (*event.Record, bool, error)

	// ReclaimStale takes over one PROCESSING record claimed before claimedBefore.
	ReclaimStale(ctx context.Context, claimedBefore time.Time, token string, now time.Time) (*event.Record, bool, error)

	// Save persists the outcome of a claimed record and releases the claim.
	// Returns ErrClaimLost if the record is not PROCESSING under rec.ClaimToken.
	Save(ctx context.Context, rec *event.Record) error

	// DeleteCompletedOlderThan removes COMPLETED records created before cutoff.
	DeleteCompletedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Get(ctx context.Context, id int64) (*event.Record, error)
	List(ctx context.Context, status event.Status, limit int) ([]*event.Record, error)
	CountByStatus(ctx context.Context) (map[event.Status]int64, error)
}

// Locker grants exclusive runs of a periodic task across instances.
type Locker interface {
	// TryLock returns a release func when the lock is taken, or ok=false when another holder has it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
