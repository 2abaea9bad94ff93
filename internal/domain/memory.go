package domain

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryOrders keeps orders and couriers in process. It implements
// OrderRepository and DeliveryService for tests and the memory store driver.
type MemoryOrders struct {
	mu      sync.Mutex
	orders  map[int64]Order
	workers map[int64]DeliveryWorker
}

func NewMemoryOrders() *MemoryOrders {
	return &MemoryOrders{orders: make(map[int64]Order), workers: make(map[int64]DeliveryWorker)}
}

// PutWorker adds or replaces a courier.
func (m *MemoryOrders) PutWorker(w DeliveryWorker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID] = w
}

func (m *MemoryOrders) FindByID(_ context.Context, id int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryOrders) FindByStatus(_ context.Context, status OrderStatus) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryOrders) Save(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneOrder(*o)
	c.UpdatedAt = time.Now().UTC()
	m.orders[o.ID] = *c
	return nil
}

func (m *MemoryOrders) OnlineWorkers(_ context.Context) ([]DeliveryWorker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeliveryWorker
	for _, w := range m.workers {
		if w.IsOnline {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryOrders) AssignWorker(_ context.Context, orderID, workerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if _, ok := m.workers[workerID]; !ok {
		return ErrWorkerNotFound
	}
	if o.DeliveryWorkerID != nil {
		return ErrAlreadyAssigned
	}
	if o.Status != OrderPendingDelivery {
		return ErrInvalidTransition
	}
	w := workerID
	o.DeliveryWorkerID = &w
	o.Status = OrderDelivering
	o.UpdatedAt = time.Now().UTC()
	m.orders[orderID] = o
	return nil
}

func cloneOrder(o Order) *Order {
	if o.DeliveryWorkerID != nil {
		w := *o.DeliveryWorkerID
		o.DeliveryWorkerID = &w
	}
	return &o
}

// MemoryAddresses implements AddressRepository in process.
type MemoryAddresses struct {
	mu    sync.Mutex
	items map[int64]Address
}

func NewMemoryAddresses(addrs ...Address) *MemoryAddresses {
	m := &MemoryAddresses{items: make(map[int64]Address)}
	for _, a := range addrs {
		m.items[a.ID] = a
	}
	return m
}

func (m *MemoryAddresses) Put(a Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[a.ID] = a
}

func (m *MemoryAddresses) FindByID(_ context.Context, id int64) (*Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrAddressNotFound
	}
	return &a, nil
}
