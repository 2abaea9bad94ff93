package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yidafu/AquaRush-sub000/internal/domain"
	"github.com/yidafu/AquaRush-sub000/internal/event"
	"github.com/yidafu/AquaRush-sub000/internal/outbox"
)

type fakeOrders struct {
	store   outbox.Store
	paid    map[int64]string
	missing int64
}

func (f *fakeOrders) MarkPaid(ctx context.Context, orderID int64, txID string) (*event.Record, error) {
	if orderID == f.missing {
		return nil, fmt.Errorf("load order %d: %w", orderID, domain.ErrOrderNotFound)
	}
	if _, ok := f.paid[orderID]; ok {
		return nil, fmt.Errorf("pay order %d: %w", orderID, domain.ErrInvalidTransition)
	}
	f.paid[orderID] = txID
	rec, err := event.New(event.TypeOrderPaid, event.Payload{"orderId": orderID, "paymentTransactionId": txID})
	if err != nil {
		return nil, err
	}
	return rec, f.store.Append(ctx, rec)
}

func (f *fakeOrders) Cancel(ctx context.Context, orderID int64, reason string) (*event.Record, error) {
	rec, err := event.New(event.TypeOrderCancelled, event.Payload{"orderId": orderID, "reason": reason})
	if err != nil {
		return nil, err
	}
	return rec, f.store.Append(ctx, rec)
}

type fixture struct {
	store  *outbox.MemoryStore
	orders *fakeOrders
	srv    *httptest.Server
}

func newFixture(t *testing.T, withOrders bool) *fixture {
	t.Helper()
	store := outbox.NewMemoryStore()
	proc := outbox.NewProcessor(store, nil)
	coord, err := outbox.NewCoordinator(context.Background(), store, proc,
		outbox.CoordinatorConfig{Strategy: outbox.StrategyOutboxOnly}, nil)
	require.NoError(t, err)

	f := &fixture{store: store, orders: &fakeOrders{store: store, paid: map[int64]string{}, missing: 404}}
	opts := []Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	if withOrders {
		opts = append(opts, WithOrderWriter(f.orders))
	}
	f.srv = httptest.NewServer(New(coord, store, opts...))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (f *fixture) failed(t *testing.T, typ event.Type) *event.Record {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	rec := &event.Record{Type: typ, Payload: `{"orderId":42}`, RetryCount: outbox.MaxRetryCount, CreatedAt: now.Add(-time.Minute)}
	require.NoError(t, f.store.Append(ctx, rec))
	claimed, ok, err := f.store.Claim(ctx, rec.ID, "tok", now)
	require.NoError(t, err)
	require.True(t, ok)
	outbox.DefaultPolicy().ApplyFailure(claimed, "gateway down", now)
	require.NoError(t, f.store.Save(ctx, claimed))
	return claimed
}

func TestProbes(t *testing.T) {
	f := newFixture(t, false)

	code, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])

	code, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestPublishAndGet(t *testing.T) {
	f := newFixture(t, false)

	code, body := f.do(t, http.MethodPost, "/v1/events", `{"type":"ORDER_DELIVERED","payload":{"orderId":9007199254740993}}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "PENDING", body["status"])
	id := int64(body["id"].(float64))

	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, rec.Payload, "9007199254740993", "large ids must survive decoding")

	code, body = f.do(t, http.MethodGet, fmt.Sprintf("/v1/events/%d", id), "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ORDER_DELIVERED", body["event_type"])

	code, _ = f.do(t, http.MethodGet, "/v1/events/999", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodGet, "/v1/events/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPublishValidation(t *testing.T) {
	f := newFixture(t, false)

	code, body := f.do(t, http.MethodPost, "/v1/events", `{"payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "event type is required", body["error"])

	code, _ = f.do(t, http.MethodPost, "/v1/events", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListEvents(t *testing.T) {
	f := newFixture(t, false)
	f.failed(t, event.TypeOrderCancelled)
	for i := 0; i < 3; i++ {
		code, _ := f.do(t, http.MethodPost, "/v1/events", `{"type":"ORDER_PAID","payload":{"orderId":1}}`)
		require.Equal(t, http.StatusAccepted, code)
	}

	tests := []struct {
		query string
		code  int
		count float64
	}{
		{query: "", code: http.StatusOK, count: 4},
		{query: "?status=FAILED", code: http.StatusOK, count: 1},
		{query: "?status=PENDING&limit=2", code: http.StatusOK, count: 2},
		{query: "?status=COMPLETED", code: http.StatusOK, count: 0},
		{query: "?status=BOGUS", code: http.StatusBadRequest},
		{query: "?limit=0", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			code, body := f.do(t, http.MethodGet, "/v1/events"+tt.query, "")
			require.Equal(t, tt.code, code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.count, body["count"])
			}
		})
	}
}

func TestReplay(t *testing.T) {
	f := newFixture(t, false)
	failed := f.failed(t, event.TypeOrderCancelled)

	code, body := f.do(t, http.MethodPost, fmt.Sprintf("/v1/events/%d/replay", failed.ID), "")
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, float64(failed.ID), body["replayed_from"])
	replay := body["event"].(map[string]any)
	assert.Equal(t, "PENDING", replay["status"])
	assert.NotEqual(t, float64(failed.ID), replay["id"])

	// The replayed copy is PENDING, so it cannot itself be replayed.
	code, _ = f.do(t, http.MethodPost, fmt.Sprintf("/v1/events/%d/replay", int64(replay["id"].(float64))), "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/v1/events/999/replay", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, false)
	f.failed(t, event.TypeOrderPaid)

	code, body := f.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "outbox-only", body["strategy"])
	assert.Equal(t, "primary", body["poller_mode"])
	counts := body["counts"].(map[string]any)
	assert.Equal(t, float64(1), counts["FAILED"])
}

func TestOrderRoutes(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodPost, "/v1/orders/7/pay", `{"transaction_id":"tx7"}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "ORDER_PAID", body["event_type"])
	assert.Equal(t, "tx7", f.orders.paid[7])

	code, _ = f.do(t, http.MethodPost, "/v1/orders/7/pay", `{"transaction_id":"tx7"}`)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = f.do(t, http.MethodPost, "/v1/orders/404/pay", `{"transaction_id":"tx"}`)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodPost, "/v1/orders/8/pay", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodPost, "/v1/orders/7/cancel", "")
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "ORDER_CANCELLED", body["event_type"])
}

func TestOrderRoutesNeedWriter(t *testing.T) {
	f := newFixture(t, false)
	code, _ := f.do(t, http.MethodPost, "/v1/orders/7/pay", `{"transaction_id":"tx7"}`)
	assert.Equal(t, http.StatusNotFound, code)
}
