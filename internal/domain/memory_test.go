package domain

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryOrdersAssignWorker(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryOrders()
	m.PutWorker(DeliveryWorker{ID: 1, IsOnline: true})
	_ = m.Save(ctx, &Order{ID: 1, Status: OrderPendingDelivery})
	_ = m.Save(ctx, &Order{ID: 2, Status: OrderPendingPayment})

	cases := []struct {
		name     string
		orderID  int64
		workerID int64
		want     error
	}{
		{"assigns", 1, 1, nil},
		{"second assignment", 1, 1, ErrAlreadyAssigned},
		{"unpaid order", 2, 1, ErrInvalidTransition},
		{"missing order", 3, 1, ErrOrderNotFound},
		{"missing worker", 2, 9, ErrWorkerNotFound},
	}
	for _, tc := range cases {
		if err := m.AssignWorker(ctx, tc.orderID, tc.workerID); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	o, _ := m.FindByID(ctx, 1)
	if o.Status != OrderDelivering || o.DeliveryWorkerID == nil || *o.DeliveryWorkerID != 1 {
		t.Errorf("order = %+v", o)
	}
	pending, _ := m.FindByStatus(ctx, OrderPendingPayment)
	if len(pending) != 1 || pending[0].ID != 2 {
		t.Errorf("FindByStatus = %+v", pending)
	}
}

func TestMemoryOnlineWorkers(t *testing.T) {
	m := NewMemoryOrders()
	m.PutWorker(DeliveryWorker{ID: 2, IsOnline: true})
	m.PutWorker(DeliveryWorker{ID: 1, IsOnline: true})
	m.PutWorker(DeliveryWorker{ID: 3})

	ws, _ := m.OnlineWorkers(context.Background())
	if len(ws) != 2 || ws[0].ID != 1 || ws[1].ID != 2 {
		t.Errorf("online = %+v", ws)
	}
}
