package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/yidafu/AquaRush-sub000/internal/domain"
	"github.com/yidafu/AquaRush-sub000/internal/event"
)

// OrderCancelled refunds a cancelled order when the payload says a refund is owed.
//
// A failed refund does not fail the event: it is logged and reported as a
// refund_failed notification for manual reconciliation, and the record
// still completes.
type OrderCancelled struct {
	orders   domain.OrderRepository
	payments domain.PaymentService
	notifier domain.Notifier
	logger   *slog.Logger
}

func NewOrderCancelled(orders domain.OrderRepository, payments domain.PaymentService, notifier domain.Notifier, logger *slog.Logger) *OrderCancelled {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderCancelled{orders: orders, payments: payments, notifier: notifier, logger: logger}
}

func (h *OrderCancelled) Type() event.Type { return event.TypeOrderCancelled }

func (h *OrderCancelled) Handle(ctx context.Context, rec *event.Record) error {
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

	shouldRefund := p.Bool("shouldRefund")
	txID := p.String("paymentTransactionId")
	log := h.logger.With("event_id", rec.ID, "order_id", order.ID, "order_number", order.OrderNumber)
	log.Info("processing order cancellation", "should_refund", shouldRefund)

	if shouldRefund && txID != "" {
		h.refund(ctx, rec, order, txID, log)
	}
	return nil
}

func (h *OrderCancelled) refund(ctx context.Context, rec *event.Record, order *domain.Order, txID string, log *slog.Logger) {
	req := domain.RefundRequest{
		TransactionID: txID,
		RefundAmount:  order.Amount,
		TotalAmount:   order.Amount,
		Reason:        "order cancelled, refund for order " + order.OrderNumber,
	}
	refundID, err := h.payments.Refund(ctx, req)
	if err == nil {
		log.Info("refund processed", "refund_id", refundID, "amount", order.Amount)
		return
	}

	log.Error("refund failed, manual intervention required",
		"transaction_id", txID, "amount", order.Amount, "err", err)
	if h.notifier == nil {
		return
	}
	nerr := h.notifier.Notify(ctx, domain.Notification{
		Kind:    domain.NotifyRefundFailed,
		OrderID: order.ID,
		EventID: rec.ID,
		Message: fmt.Sprintf("refund for order %s failed: %v", order.OrderNumber, err),
		Attrs: map[string]string{
			"transactionId": txID,
			"refundAmount":  strconv.FormatInt(order.Amount, 10),
		},
		SentAt: time.Now().UTC(),
	})
	if nerr != nil {
		log.Error("failed to send refund failure alert", "err", nerr)
	}
}
