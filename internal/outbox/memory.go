package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yidafu/AquaRush-sub000/internal/event"
)

// MemoryStore is an in-process Store for tests and single-node demos.
// Records are lost when the process exits.
type MemoryStore struct {
	mu      sync.Mutex
	records map[int64]*event.Record
	nextID  int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]*event.Record)}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, rec *event.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.nextID++
	rec.ID = m.nextID
	rec.Status = event.StatusPending
	rec.ClaimToken = ""
	rec.ClaimedAt = nil
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
	m.records[rec.ID] = rec.Clone()
	return nil
}

// FindDue implements Store.
func (m *MemoryStore) FindDue(_ context.Context, now time.Time, limit int) ([]*event.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := m.dueLocked(now)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*event.Record, len(due))
	for i, r := range due {
		out[i] = r.Clone()
	}
	return out, nil
}

// ClaimNext implements Store.
func (m *MemoryStore) ClaimNext(_ context.Context, now time.Time, token string) (*event.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := m.dueLocked(now)
	if len(due) == 0 {
		return nil, false, nil
	}
	return m.claimLocked(due[0], token, now), true, nil
}

// Claim implements Store.
func (m *MemoryStore) Claim(_ context.Context, id int64, token string, now time.Time) (*event.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok || !r.Due(now) {
		return nil, false, nil
	}
	return m.claimLocked(r, token, now), true, nil
}

// ReclaimStale implements Store.
func (m *MemoryStore) ReclaimStale(_ context.Context, claimedBefore time.Time, token string, now time.Time) (*event.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *event.Record
	for _, r := range m.records {
		if r.Status != event.StatusProcessing || r.DeletedAt != nil {
			continue
		}
		if r.ClaimedAt != nil && !r.ClaimedAt.Before(claimedBefore) {
			continue
		}
		if oldest == nil || r.ID < oldest.ID {
			oldest = r
		}
	}
	if oldest == nil {
		return nil, false, nil
	}
	return m.claimLocked(oldest, token, now), true, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec *event.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[rec.ID]
	if !ok || cur.Status != event.StatusProcessing || cur.ClaimToken != rec.ClaimToken {
		return ErrClaimLost
	}
	next := rec.Clone()
	next.ClaimToken = ""
	next.ClaimedAt = nil
	next.CreatedAt = cur.CreatedAt
	m.records[rec.ID] = next
	rec.ClaimToken = ""
	rec.ClaimedAt = nil
	return nil
}

// DeleteCompletedOlderThan implements Store.
func (m *MemoryStore) DeleteCompletedOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, r := range m.records {
		if r.Status == event.StatusCompleted && r.CreatedAt.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id int64) (*event.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok || r.DeletedAt != nil {
		return nil, event.ErrNotFound
	}
	return r.Clone(), nil
}

// List implements Store. An empty status lists everything, newest first.
func (m *MemoryStore) List(_ context.Context, status event.Status, limit int) ([]*event.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*event.Record
	for _, r := range m.records {
		if r.DeletedAt != nil || (status != "" && r.Status != status) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByStatus implements Store.
func (m *MemoryStore) CountByStatus(_ context.Context) (map[event.Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[event.Status]int64)
	for _, r := range m.records {
		if r.DeletedAt == nil {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) dueLocked(now time.Time) []*event.Record {
	var due []*event.Record
	for _, r := range m.records {
		if r.Due(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := runAt(due[i]), runAt(due[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return due[i].ID < due[j].ID
	})
	return due
}

func (m *MemoryStore) claimLocked(r *event.Record, token string, now time.Time) *event.Record {
	r.Status = event.StatusProcessing
	r.ClaimToken = token
	claimed := now
	r.ClaimedAt = &claimed
	r.UpdatedAt = now
	return r.Clone()
}

// runAt orders records without a next run first, like NULLS FIRST.
func runAt(r *event.Record) time.Time {
	if r.NextRunAt == nil {
		return time.Time{}
	}
	return *r.NextRunAt
}
