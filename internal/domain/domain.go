// Package domain holds the order-side collaborators the event handlers call.
// Implementations live in the store, payment and notify packages.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrAddressNotFound   = errors.New("address not found")
	ErrWorkerNotFound    = errors.New("delivery worker not found")
	ErrAlreadyAssigned   = errors.New("order already assigned")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrRefundRejected    = errors.New("refund rejected")
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPendingPayment  OrderStatus = "PENDING_PAYMENT"
	OrderPendingDelivery OrderStatus = "PENDING_DELIVERY"
	OrderDelivering      OrderStatus = "DELIVERING"
	OrderCompleted       OrderStatus = "COMPLETED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// Order is the subset of the order aggregate the handlers need.
type Order struct {
	ID                   int64       `json:"id"`
	OrderNumber          string      `json:"order_number"`
	UserID               int64       `json:"user_id"`
	ProductID            int64       `json:"product_id"`
	AddressID            int64       `json:"address_id"`
	Amount               int64       `json:"amount"` // cents
	Status               OrderStatus `json:"status"`
	DeliveryWorkerID     *int64      `json:"delivery_worker_id,omitempty"`
	PaymentTransactionID string      `json:"payment_transaction_id,omitempty"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// Address is a delivery address.
type Address struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"user_id"`
	Province string `json:"province"`
	City     string `json:"city"`
	District string `json:"district"`
	Detail   string `json:"detail"`
}

// Line renders the address on one line.
func (a Address) Line() string {
	return a.Province + a.City + a.District + a.Detail
}

// DeliveryWorker is a courier.
type DeliveryWorker struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	IsOnline bool   `json:"is_online"`
}

// RefundRequest asks the payment gateway to return money for a transaction.
type RefundRequest struct {
	TransactionID string
	RefundAmount  int64 // cents
	TotalAmount   int64 // cents
	Reason        string
}

// Notification kinds.
const (
	NotifyPaymentTimeout  = "payment_timeout"
	NotifyDeliveryTimeout = "delivery_timeout"
	NotifyOrderAssigned   = "order_assigned"
	NotifyOrderDelivered  = "order_delivered"
	NotifyRefundFailed    = "refund_failed"
	NotifyEventFailed     = "event_failed"
)

// Notification is a message for users, couriers or operators.
type Notification struct {
	Kind    string            `json:"kind"`
	OrderID int64             `json:"order_id,omitempty"`
	EventID int64             `json:"event_id,omitempty"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
}

type OrderRepository interface {
	FindByID(ctx context.Context, id int64) (*Order, error)
	FindByStatus(ctx context.Context, status OrderStatus) ([]*Order, error)
	Save(ctx context.Context, o *Order) error
}

type DeliveryService interface {
	OnlineWorkers(ctx context.Context) ([]DeliveryWorker, error)
	// AssignWorker moves a PENDING_DELIVERY order to DELIVERING with workerID.
	// It returns ErrAlreadyAssigned if the order has a worker already.
	AssignWorker(ctx context.Context, orderID, workerID int64) error
}

type PaymentService interface {
	// Refund returns the gateway's refund id.
	Refund(ctx context.Context, req RefundRequest) (string, error)
}

type AddressRepository interface {
	FindByID(ctx context.Context, id int64) (*Address, error)
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
