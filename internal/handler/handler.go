// Package handler implements the reactions to outbox events.
package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yidafu/AquaRush-sub000/internal/event"
)

// Handler reacts to one event type. Returning nil marks the record
// COMPLETED; any error sends it through the retry policy.
type Handler interface {
	// Type returns the event type this handler is registered under.
	Type() event.Type
	// Handle runs the reaction. It must be safe to run more than once for the same record.
	Handle(ctx context.Context, rec *event.Record) error
}

// Emitter appends follow-up events to the outbox.
type Emitter interface {
	Publish(ctx context.Context, t event.Type, payload event.Payload) (*event.Record, error)
}

// Registry maps event types to their handlers.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[event.Type]Handler
}

// NewRegistry creates a Registry holding hs.
func NewRegistry(hs ...Handler) *Registry {
	r := &Registry{handlers: make(map[event.Type]Handler)}
	for _, h := range hs {
		r.Register(h)
	}
	return r
}

// Register adds a handler. Panics on duplicate type to surface misconfiguration early.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Type()]; exists {
		panic(fmt.Sprintf("handler registry: duplicate type %q", h.Type()))
	}
	r.handlers[h.Type()] = h
}

// Get returns the handler for t, or an error wrapping event.ErrUnknownType.
func (r *Registry) Get(t event.Type) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: no handler registered for %q", event.ErrUnknownType, t)
	}
	return h, nil
}

// Dispatch routes rec to its handler.
func (r *Registry) Dispatch(ctx context.Context, rec *event.Record) error {
	h, err := r.Get(rec.Type)
	if err != nil {
		return err
	}
	return h.Handle(ctx, rec)
}

// Types returns all registered event types, sorted.
func (r *Registry) Types() []event.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]event.Type, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func decode(rec *event.Record) (event.Payload, error) {
	p, err := event.DecodePayload(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s event %d: %w", rec.Type, rec.ID, err)
	}
	return p, nil
}

func orderID(rec *event.Record, p event.Payload) (int64, error) {
	id, err := p.Int64("orderId")
	if err != nil {
		return 0, fmt.Errorf("%s event %d: %w", rec.Type, rec.ID, err)
	}
	return id, nil
}
