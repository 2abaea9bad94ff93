package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yidafu/AquaRush-sub000/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafka_Notify(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafka(w)
	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	k.now = func() time.Time { return sent }

	err := k.Notify(context.Background(), domain.Notification{
		Kind:    domain.NotifyOrderAssigned,
		OrderID: 42,
		Message: "order assigned",
		Attrs:   map[string]string{"deliveryWorkerName": "Li"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "42", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, domain.NotifyOrderAssigned, string(msg.Headers[0].Value))

	var got domain.Notification
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, int64(42), got.OrderID)
	assert.Equal(t, "Li", got.Attrs["deliveryWorkerName"])
	assert.True(t, got.SentAt.Equal(sent))
}

func TestKafka_KeyFallsBackToKind(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewKafka(w).Notify(context.Background(), domain.Notification{Kind: domain.NotifyEventFailed, EventID: 7}))
	assert.Equal(t, domain.NotifyEventFailed, string(w.msgs[0].Key))
}

func TestKafka_WriteError(t *testing.T) {
	errBroker := errors.New("broker down")
	k := NewKafka(&fakeWriter{err: errBroker})
	err := k.Notify(context.Background(), domain.Notification{Kind: domain.NotifyPaymentTimeout, OrderID: 1})
	assert.ErrorIs(t, err, errBroker)
}

func TestKafka_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewKafka(w).Close())
	assert.True(t, w.closed)
}

func TestLog_Notify(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, l.Notify(context.Background(), domain.Notification{
		Kind: domain.NotifyRefundFailed, OrderID: 42, Message: "refund failed",
	}))
	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "kind=refund_failed")
	assert.Contains(t, out, "order_id=42")
}
