package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yidafu/AquaRush-sub000/internal/event"
	"github.com/yidafu/AquaRush-sub000/internal/outbox"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "aqua.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func appendAt(t *testing.T, s *EventStore, typ event.Type, createdAt time.Time) *event.Record {
	t.Helper()
	rec := &event.Record{Type: typ, Payload: `{"orderId":1}`, CreatedAt: createdAt}
	require.NoError(t, s.Append(context.Background(), rec))
	return rec
}

func TestEventStore_AppendAndGet(t *testing.T) {
	s := NewEventStore(openTestDB(t))
	ctx := context.Background()

	rec := appendAt(t, s, event.TypeOrderPaid, now)
	assert.Equal(t, int64(1), rec.ID)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, event.TypeOrderPaid, got.Type)
	assert.Equal(t, event.StatusPending, got.Status)
	assert.Equal(t, `{"orderId":1}`, got.Payload)
	assert.Equal(t, 0, got.RetryCount)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(now))
	assert.True(t, got.CreatedAt.Equal(now))

	_, err = s.Get(ctx, 99)
	assert.ErrorIs(t, err, event.ErrNotFound)
}

func TestEventStore_ClaimNextOrder(t *testing.T) {
	s := NewEventStore(openTestDB(t))
	ctx := context.Background()

	later := appendAt(t, s, event.TypeOrderPaid, now.Add(-time.Minute))
	sooner := appendAt(t, s, event.TypeOrderCancelled, now.Add(-time.Hour))
	appendAt(t, s, event.TypeOrderPaid, now.Add(time.Hour))

	due, err := s.FindDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, sooner.ID, due[0].ID)

	first, ok, err := s.ClaimNext(ctx, now, "tok-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sooner.ID, first.ID)
	assert.Equal(t, event.StatusProcessing, first.Status)
	assert.Equal(t, "tok-1", first.ClaimToken)
	require.NotNil(t, first.ClaimedAt)

	second, ok, err := s.ClaimNext(ctx, now, "tok-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, later.ID, second.ID)

	_, ok, err = s.ClaimNext(ctx, now, "tok-3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventStore_ClaimByID(t *testing.T) {
	s := NewEventStore(openTestDB(t))
	ctx := context.Background()
	rec := appendAt(t, s, event.TypeOrderPaid, now)

	_, ok, err := s.Claim(ctx, rec.ID, "early", now.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "not yet due")

	_, ok, err = s.Claim(ctx, rec.ID, "a", now)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = s.Claim(ctx, rec.ID, "b", now)
	require.NoError(t, err)
	assert.False(t, ok, "already claimed")
}

func TestEventStore_SaveIsConditional(t *testing.T) {
	s := NewEventStore(openTestDB(t))
	ctx := context.Background()
	rec := appendAt(t, s, event.TypeOrderPaid, now)

	claimed, ok, err := s.Claim(ctx, rec.ID, "mine", now)
	require.NoError(t, err)
	require.True(t, ok)

	forged := claimed.Clone()
	forged.ClaimToken = "theirs"
	outbox.ApplySuccess(forged, now)
	assert.ErrorIs(t, s.Save(ctx, forged), outbox.ErrClaimLost)

	outbox.DefaultPolicy().ApplyFailure(claimed, "gateway down", now)
	require.NoError(t, s.Save(ctx, claimed))
	assert.Empty(t, claimed.ClaimToken)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "gateway down", got.ErrorMessage)
	assert.True(t, got.NextRunAt.Equal(now.Add(time.Minute)))
	assert.Empty(t, got.ClaimToken)
	assert.Nil(t, got.ClaimedAt)

	assert.ErrorIs(t, s.Save(ctx, claimed), outbox.ErrClaimLost, "second save without a claim")
}

func TestEventStore_ReclaimStale(t *testing.T) {
	s := NewEventStore(openTestDB(t))
	ctx := context.Background()
	stale := appendAt(t, s, event.TypeOrderPaid, now.Add(-time.Hour))
	fresh := appendAt(t, s, event.TypeOrderPaid, now.Add(-time.Hour))

	_, _, err := s.Claim(ctx, stale.ID, "old", now.Add(-30*time.Minute))
	require.NoError(t, err)
	_, _, err = s.Claim(ctx, fresh.ID, "new", now.Add(-time.Minute))
	require.NoError(t, err)

	got, ok, err := s.ReclaimStale(ctx, now.Add(-15*time.Minute), "rescue", now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stale.ID, got.ID)
	assert.Equal(t, "rescue", got.ClaimToken)

	_, ok, err = s.ReclaimStale(ctx, now.Add(-15*time.Minute), "rescue-2", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventStore_DeleteCompletedOlderThan(t *testing.T) {
	s := NewEventStore(openTestDB(t))
	ctx := context.Background()
	day := 24 * time.Hour

	seed := func(createdAt time.Time, status event.Status) int64 {
		rec := &event.Record{Type: event.TypeOrderPaid, Payload: "{}", CreatedAt: createdAt}
		if status == event.StatusFailed {
			rec.RetryCount = outbox.MaxRetryCount
		}
		require.NoError(t, s.Append(ctx, rec))
		if status == event.StatusPending {
			return rec.ID
		}
		c, ok, err := s.Claim(ctx, rec.ID, "t", createdAt)
		require.NoError(t, err)
		require.True(t, ok)
		if status == event.StatusCompleted {
			outbox.ApplySuccess(c, createdAt)
		} else {
			outbox.DefaultPolicy().ApplyFailure(c, "boom", createdAt)
		}
		require.NoError(t, s.Save(ctx, c))
		return rec.ID
	}

	old := seed(now.Add(-40*day), event.StatusCompleted)
	recent := seed(now.Add(-10*day), event.StatusCompleted)
	pending := seed(now.Add(-90*day), event.StatusPending)
	failed := seed(now.Add(-90*day), event.StatusFailed)

	n, err := s.DeleteCompletedOlderThan(ctx, now.Add(-30*day))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, old)
	assert.ErrorIs(t, err, event.ErrNotFound)
	for _, id := range []int64{recent, pending, failed} {
		_, err := s.Get(ctx, id)
		assert.NoError(t, err)
	}

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[event.StatusCompleted])
	assert.Equal(t, int64(1), counts[event.StatusPending])
	assert.Equal(t, int64(1), counts[event.StatusFailed])
}

func TestEventStore_List(t *testing.T) {
	s := NewEventStore(openTestDB(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		appendAt(t, s, event.TypeOrderPaid, now)
	}

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)

	one, err := s.List(ctx, event.StatusPending, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	none, err := s.List(ctx, event.StatusFailed, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEventStore_ConcurrentClaimsAreExclusive(t *testing.T) {
	s := NewEventStore(openTestDB(t))
	ctx := context.Background()
	const records = 30
	for i := 0; i < records; i++ {
		appendAt(t, s, event.TypeOrderPaid, now)
	}

	var mu sync.Mutex
	seen := make(map[int64]int)
	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				rec, ok, err := s.ClaimNext(ctx, now, outbox.NewClaimToken())
				if err != nil {
					t.Error(err)
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				seen[rec.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, records)
	for id, n := range seen {
		assert.Equal(t, 1, n, "record %d claimed %d times", id, n)
	}
}

func TestEventStore_WithPoller(t *testing.T) {
	s := NewEventStore(openTestDB(t))
	ctx := context.Background()
	rec := appendAt(t, s, event.TypeOrderPaid, now.Add(-time.Minute))
	unknown := appendAt(t, s, "LEGACY_EVENT", now.Add(-time.Minute))

	d := dispatchFunc(func(_ context.Context, r *event.Record) error {
		if r.Type != event.TypeOrderPaid {
			return event.ErrUnknownType
		}
		return nil
	})
	proc := outbox.NewProcessor(s, d, outbox.WithClock(func() time.Time { return now }))
	poller := outbox.NewPoller(s, proc, outbox.PollerConfig{}, nil)

	n, err := poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []int64{rec.ID, unknown.ID} {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, event.StatusCompleted, got.Status)
		assert.Equal(t, 0, got.RetryCount)
	}
}

func TestEventStore_ShutdownDuringHandler(t *testing.T) {
	tests := []struct {
		name       string
		honourCtx  bool
		wantStatus event.Status
	}{
		{name: "handler returns cancellation", honourCtx: true, wantStatus: event.StatusPending},
		{name: "handler finishes anyway", honourCtx: false, wantStatus: event.StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewEventStore(openTestDB(t))
			rec := appendAt(t, s, event.TypeOrderPaid, now.Add(-time.Minute))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			d := dispatchFunc(func(hctx context.Context, _ *event.Record) error {
				cancel()
				if tt.honourCtx {
					<-hctx.Done()
					return hctx.Err()
				}
				return nil
			})
			proc := outbox.NewProcessor(s, d, outbox.WithClock(func() time.Time { return now }))
			poller := outbox.NewPoller(s, proc, outbox.PollerConfig{}, nil)

			_, err := poller.PollOnce(ctx)
			require.NoError(t, err)

			got, err := s.Get(context.Background(), rec.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, 0, got.RetryCount)
			assert.Empty(t, got.ClaimToken)
			assert.Nil(t, got.ClaimedAt)
			assert.Empty(t, got.ErrorMessage)
		})
	}
}

type dispatchFunc func(context.Context, *event.Record) error

func (f dispatchFunc) Dispatch(ctx context.Context, r *event.Record) error { return f(ctx, r) }
