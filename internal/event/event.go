package event

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Type tags what happened. Unknown values are carried as-is and never rejected at this layer.
type Type string

const (
	TypeOrderPaid          Type = "ORDER_PAID"
	TypeOrderCancelled     Type = "ORDER_CANCELLED"
	TypeOrderAssigned      Type = "ORDER_ASSIGNED"
	TypeOrderDelivered     Type = "ORDER_DELIVERED"
	TypePaymentTimeout     Type = "PAYMENT_TIMEOUT"
	TypeDeliveryTimeout    Type = "DELIVERY_TIMEOUT"
	TypeDeliveryAssignment Type = "ORDER_DELIVERY_ASSIGNMENT" // in-process only, never persisted
)

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrNotFound    = errors.New("event not found")
)

// Record is the persisted unit of work written by the outbox.
type Record struct {
	ID           int64      `json:"id"`
	Type         Type       `json:"event_type"`
	Payload      string     `json:"payload"` // JSON object
	Status       Status     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Claim bookkeeping; set only while Status is PROCESSING.
	ClaimToken string     `json:"-"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`

	DeletedAt *time.Time `json:"-"`
	DeletedBy string     `json:"-"`
}

// New builds a pending record with an encoded payload.
func New(t Type, payload Payload) (*Record, error) {
	raw, err := payload.Encode()
	if err != nil {
		return nil, err
	}
	return &Record{Type: t, Payload: raw, Status: StatusPending}, nil
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.NextRunAt = copyTime(r.NextRunAt)
	c.ClaimedAt = copyTime(r.ClaimedAt)
	c.DeletedAt = copyTime(r.DeletedAt)
	return &c
}

// Due reports whether the record may be dispatched at now.
func (r *Record) Due(now time.Time) bool {
	return r.Status == StatusPending && r.DeletedAt == nil && (r.NextRunAt == nil || !r.NextRunAt.After(now))
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
