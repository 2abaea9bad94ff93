package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"

	"github.com/yidafu/AquaRush-sub000/internal/domain"
	"github.com/yidafu/AquaRush-sub000/internal/event"
)

// OrderPaid starts delivery for a paid order. Orders not waiting for
// delivery are skipped, so stale or duplicate events are harmless.
type OrderPaid struct {
	orders     domain.OrderRepository
	assignment *DeliveryAssignment
	logger     *slog.Logger
}

func NewOrderPaid(orders domain.OrderRepository, assignment *DeliveryAssignment, logger *slog.Logger) *OrderPaid {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderPaid{orders: orders, assignment: assignment, logger: logger}
}

func (h *OrderPaid) Type() event.Type { return event.TypeOrderPaid }

func (h *OrderPaid) Handle(ctx context.Context, rec *event.Record) error {
	p, err := decode(rec)
	if err != nil {
		return err
	}
	id, err := orderID(rec, p)
	if err != nil {
		return err
	}
	order, err := h.orders.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load order %d: %w", id, err)
	}

	log := h.logger.With("event_id", rec.ID, "order_id", order.ID, "order_number", order.OrderNumber)
	if order.Status != domain.OrderPendingDelivery {
		log.Warn("order is not waiting for delivery, skipping", "status", order.Status)
		return nil
	}

	// Same-process call: the assignment step is not persisted on its own.
	sub := &event.Record{
		ID:   rec.ID,
		Type: event.TypeDeliveryAssignment,
		Payload: mustEncode(event.Payload{
			"orderId":     strconv.FormatInt(order.ID, 10),
			"orderNumber": order.OrderNumber,
			"userId":      strconv.FormatInt(order.UserID, 10),
			"productId":   strconv.FormatInt(order.ProductID, 10),
			"addressId":   strconv.FormatInt(order.AddressID, 10),
		}),
	}
	if err := h.assignment.Handle(ctx, sub); err != nil {
		return err
	}
	log.Info("order paid event processed")
	return nil
}

// DeliveryAssignment picks an online courier for an order and moves it to
// DELIVERING. It runs in-process from OrderPaid and is also registered so a
// persisted ORDER_DELIVERY_ASSIGNMENT record can re-trigger assignment.
type DeliveryAssignment struct {
	orders    domain.OrderRepository
	addresses domain.AddressRepository
	delivery  domain.DeliveryService
	emitter   Emitter
	pick      func(n int) int
	logger    *slog.Logger
}

// DeliveryOption configures a DeliveryAssignment.
type DeliveryOption func(*DeliveryAssignment)

// WithPicker replaces the uniform random courier choice.
func WithPicker(pick func(n int) int) DeliveryOption {
	return func(h *DeliveryAssignment) { h.pick = pick }
}

func NewDeliveryAssignment(
	orders domain.OrderRepository,
	addresses domain.AddressRepository,
	delivery domain.DeliveryService,
	emitter Emitter,
	logger *slog.Logger,
	opts ...DeliveryOption,
) *DeliveryAssignment {
	if logger == nil {
		logger = slog.Default()
	}
	h := &DeliveryAssignment{
		orders:    orders,
		addresses: addresses,
		delivery:  delivery,
		emitter:   emitter,
		pick:      rand.IntN,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *DeliveryAssignment) Type() event.Type { return event.TypeDeliveryAssignment }

func (h *DeliveryAssignment) Handle(ctx context.Context, rec *event.Record) error {
	p, err := decode(rec)
	if err != nil {
		return err
	}
	id, err := orderID(rec, p)
	if err != nil {
		return err
	}
	order, err := h.orders.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load order %d: %w", id, err)
	}
	log := h.logger.With("event_id", rec.ID, "order_id", order.ID, "order_number", order.OrderNumber)

	if order.Status != domain.OrderPendingDelivery || order.DeliveryWorkerID != nil {
		log.Info("order already assigned or not deliverable, skipping", "status", order.Status)
		return nil
	}
	address, err := h.addresses.FindByID(ctx, order.AddressID)
	if err != nil {
		return fmt.Errorf("load address %d for order %d: %w", order.AddressID, order.ID, err)
	}

	workers, err := h.delivery.OnlineWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list online workers: %w", err)
	}
	if len(workers) == 0 {
		// Left for a later trigger; no automatic re-queue.
		log.Warn("no online delivery workers available, order left unassigned")
		return nil
	}
	worker := workers[h.pick(len(workers))]

	if err := h.delivery.AssignWorker(ctx, order.ID, worker.ID); err != nil {
		if errors.Is(err, domain.ErrAlreadyAssigned) {
			log.Info("order was assigned concurrently, skipping")
			return nil
		}
		return fmt.Errorf("assign worker %d to order %d: %w", worker.ID, order.ID, err)
	}
	log.Info("delivery worker assigned", "worker_id", worker.ID, "address", address.Line())

	h.emitAssigned(ctx, order, worker, log)
	return nil
}

// emitAssigned appends ORDER_ASSIGNED. A failure here is logged only: the
// assignment itself is already committed.
//
// The assignment and this append are separate writes. If the process dies
// between them, the redelivered ORDER_PAID finds the order DELIVERING and
// skips it, so ORDER_ASSIGNED is never emitted for that order. Closing this
// needs AssignWorker to append the event in its own transaction.
func (h *DeliveryAssignment) emitAssigned(ctx context.Context, order *domain.Order, w domain.DeliveryWorker, log *slog.Logger) {
	if h.emitter == nil {
		return
	}
	_, err := h.emitter.Publish(ctx, event.TypeOrderAssigned, event.Payload{
		"orderId":             strconv.FormatInt(order.ID, 10),
		"orderNumber":         order.OrderNumber,
		"deliveryWorkerId":    strconv.FormatInt(w.ID, 10),
		"deliveryWorkerName":  w.Name,
		"deliveryWorkerPhone": w.Phone,
		"userId":              strconv.FormatInt(order.UserID, 10),
	})
	if err != nil {
		log.Error("failed to append ORDER_ASSIGNED event", "err", err)
	}
}

func mustEncode(p event.Payload) string {
	s, err := p.Encode()
	if err != nil {
		panic(err)
	}
	return s
}
