package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yidafu/AquaRush-sub000/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGateway_Refund(t *testing.T) {
	var got refundBody
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		key = r.Header.Get("Idempotency-Key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(refundReply{RefundID: "rf-1", Status: "SUCCESS"})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second, quietLogger())
	id, err := g.Refund(context.Background(), domain.RefundRequest{
		TransactionID: "tx123", RefundAmount: 1500, TotalAmount: 1500, Reason: "user cancelled",
	})
	require.NoError(t, err)
	assert.Equal(t, "rf-1", id)
	assert.Equal(t, refundBody{TransactionID: "tx123", RefundAmount: 1500, TotalAmount: 1500, Reason: "user cancelled"}, got)
	assert.Equal(t, IdempotencyKey("tx123"), key)
}

func TestIdempotencyKey_StablePerTransaction(t *testing.T) {
	assert.Equal(t, IdempotencyKey("tx123"), IdempotencyKey("tx123"))
	assert.NotEqual(t, IdempotencyKey("tx123"), IdempotencyKey("tx124"))
}

func TestGateway_RefundErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		isRejected bool
	}{
		{name: "client error is a rejection", status: http.StatusBadRequest, body: `{"message":"already refunded"}`, isRejected: true},
		{name: "server error is transient", status: http.StatusBadGateway, body: `oops`},
		{name: "missing refund id", status: http.StatusOK, body: `{"status":"SUCCESS"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewGateway(srv.URL, time.Second, quietLogger()).
				Refund(context.Background(), domain.RefundRequest{TransactionID: "tx1"})
			require.Error(t, err)
			assert.Equal(t, tt.isRejected, errors.Is(err, domain.ErrRefundRejected))
		})
	}
}

func TestGateway_NoURLRejects(t *testing.T) {
	_, err := NewGateway("", 0, quietLogger()).Refund(context.Background(), domain.RefundRequest{TransactionID: "tx1"})
	assert.ErrorIs(t, err, domain.ErrRefundRejected)
}

func TestGateway_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewGateway(srv.URL, 50*time.Millisecond, quietLogger()).
		Refund(context.Background(), domain.RefundRequest{TransactionID: "tx1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRefundRejected)
}
