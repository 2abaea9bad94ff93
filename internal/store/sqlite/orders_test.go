package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yidafu/AquaRush-sub000/internal/domain"
	"github.com/yidafu/AquaRush-sub000/internal/event"
)

func seedOrder(t *testing.T, s *OrderStore, o domain.Order) {
	t.Helper()
	if o.OrderNumber == "" {
		o.OrderNumber = "AQ" + string(rune('A'+o.ID))
	}
	require.NoError(t, s.Save(context.Background(), &o))
}

func TestOrderStore_SaveAndFind(t *testing.T) {
	s := NewOrderStore(openTestDB(t))
	ctx := context.Background()
	worker := int64(4)
	seedOrder(t, s, domain.Order{ID: 1, OrderNumber: "AQ1", UserID: 9, Amount: 1850, Status: domain.OrderDelivering, DeliveryWorkerID: &worker})
	seedOrder(t, s, domain.Order{ID: 2, OrderNumber: "AQ2", Status: domain.OrderPendingPayment})

	o, err := s.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "AQ1", o.OrderNumber)
	assert.Equal(t, int64(1850), o.Amount)
	require.NotNil(t, o.DeliveryWorkerID)
	assert.Equal(t, int64(4), *o.DeliveryWorkerID)

	_, err = s.FindByID(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	pending, err := s.FindByStatus(ctx, domain.OrderPendingPayment)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].ID)
	assert.Nil(t, pending[0].DeliveryWorkerID)
}

func TestOrderStore_AssignWorker(t *testing.T) {
	s := NewOrderStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, s.SaveWorker(ctx, domain.DeliveryWorker{ID: 1, Name: "Li", Phone: "138", IsOnline: true}))
	require.NoError(t, s.SaveWorker(ctx, domain.DeliveryWorker{ID: 2, Name: "Wang", IsOnline: false}))
	seedOrder(t, s, domain.Order{ID: 1, Status: domain.OrderPendingDelivery})
	seedOrder(t, s, domain.Order{ID: 2, Status: domain.OrderPendingPayment})

	online, err := s.OnlineWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "Li", online[0].Name)
	assert.True(t, online[0].IsOnline)

	require.NoError(t, s.AssignWorker(ctx, 1, 1))
	assert.ErrorIs(t, s.AssignWorker(ctx, 1, 1), domain.ErrAlreadyAssigned)
	assert.ErrorIs(t, s.AssignWorker(ctx, 2, 1), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.AssignWorker(ctx, 3, 1), domain.ErrOrderNotFound)
	assert.ErrorIs(t, s.AssignWorker(ctx, 1, 99), domain.ErrWorkerNotFound)

	o, err := s.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDelivering, o.Status)
	assert.Equal(t, int64(1), *o.DeliveryWorkerID)
}

func TestOrderStore_MarkPaidWritesEvent(t *testing.T) {
	db := openTestDB(t)
	orders, events := NewOrderStore(db), NewEventStore(db)
	ctx := context.Background()
	seedOrder(t, orders, domain.Order{ID: 5, OrderNumber: "AQ5", UserID: 3, Status: domain.OrderPendingPayment})

	rec, err := orders.MarkPaid(ctx, 5, "tx-555")
	require.NoError(t, err)
	assert.Equal(t, event.TypeOrderPaid, rec.Type)

	stored, err := events.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusPending, stored.Status)
	p, err := event.DecodePayload(stored.Payload)
	require.NoError(t, err)
	id, _ := p.Int64("orderId")
	assert.Equal(t, int64(5), id)
	assert.Equal(t, "tx-555", p.String("paymentTransactionId"))

	o, err := orders.FindByID(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPendingDelivery, o.Status)
	assert.Equal(t, "tx-555", o.PaymentTransactionID)

	_, err = orders.MarkPaid(ctx, 5, "tx-again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	counts, err := events.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[event.StatusPending], "rejected payment must not write an event")
}

func TestOrderStore_Cancel(t *testing.T) {
	cases := []struct {
		name       string
		order      domain.Order
		wantRefund bool
		wantErr    error
	}{
		{"unpaid", domain.Order{ID: 1, Status: domain.OrderPendingPayment}, false, nil},
		{"paid", domain.Order{ID: 1, Status: domain.OrderPendingDelivery, PaymentTransactionID: "tx1"}, true, nil},
		{"out for delivery", domain.Order{ID: 1, Status: domain.OrderDelivering}, false, domain.ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := openTestDB(t)
			orders, events := NewOrderStore(db), NewEventStore(db)
			ctx := context.Background()
			seedOrder(t, orders, tc.order)

			rec, err := orders.Cancel(ctx, 1, "customer request")
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				o, _ := orders.FindByID(ctx, 1)
				assert.Equal(t, tc.order.Status, o.Status)
				return
			}
			require.NoError(t, err)

			stored, err := events.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, event.TypeOrderCancelled, stored.Type)
			p, err := event.DecodePayload(stored.Payload)
			require.NoError(t, err)
			assert.Equal(t, tc.wantRefund, p.Bool("shouldRefund"))
			assert.Equal(t, "customer request", p.String("reason"))

			o, err := orders.FindByID(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderCancelled, o.Status)
		})
	}
}

func TestAddressStore(t *testing.T) {
	s := NewAddressStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, domain.Address{ID: 7, UserID: 1, City: "Hangzhou", Detail: "1 Lake Rd"}))

	a, err := s.FindByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Hangzhou1 Lake Rd", a.Line())

	_, err = s.FindByID(ctx, 8)
	assert.ErrorIs(t, err, domain.ErrAddressNotFound)
}
