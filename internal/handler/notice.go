package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yidafu/AquaRush-sub000/internal/domain"
	"github.com/yidafu/AquaRush-sub000/internal/event"
)

// Notice handles informational events: the state change already happened
// in the writing transaction, so all that is left is to log and notify.
// A notifier error is returned so the notification is retried.
type Notice struct {
	typ      event.Type
	kind     string
	level    slog.Level
	message  string
	attrs    []string
	notifier domain.Notifier
	logger   *slog.Logger
}

func newNotice(t event.Type, kind string, level slog.Level, message string, attrs []string, n domain.Notifier, logger *slog.Logger) *Notice {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notice{typ: t, kind: kind, level: level, message: message, attrs: attrs, notifier: n, logger: logger}
}

func NewPaymentTimeout(n domain.Notifier, logger *slog.Logger) *Notice {
	return newNotice(event.TypePaymentTimeout, domain.NotifyPaymentTimeout, slog.LevelInfo,
		"payment window expired", []string{"userId"}, n, logger)
}

func NewDeliveryTimeout(n domain.Notifier, logger *slog.Logger) *Notice {
	return newNotice(event.TypeDeliveryTimeout, domain.NotifyDeliveryTimeout, slog.LevelWarn,
		"delivery timeout detected", []string{"deliveryWorkerId"}, n, logger)
}

func NewOrderAssigned(n domain.Notifier, logger *slog.Logger) *Notice {
	return newNotice(event.TypeOrderAssigned, domain.NotifyOrderAssigned, slog.LevelInfo,
		"delivery worker assigned",
		[]string{"deliveryWorkerId", "deliveryWorkerName", "deliveryWorkerPhone", "userId"}, n, logger)
}

func NewOrderDelivered(n domain.Notifier, logger *slog.Logger) *Notice {
	return newNotice(event.TypeOrderDelivered, domain.NotifyOrderDelivered, slog.LevelInfo,
		"order delivered", []string{"deliveryWorkerId", "userId"}, n, logger)
}

func (h *Notice) Type() event.Type { return h.typ }

func (h *Notice) Handle(ctx context.Context, rec *event.Record) error {
	p, err := decode(rec)
	if err != nil {
		return err
	}
	number := p.String("orderNumber")
	id, idErr := p.Int64("orderId")
	if idErr != nil && number == "" {
		return fmt.Errorf("%s event %d: payload names no order", rec.Type, rec.ID)
	}

	h.logger.Log(ctx, h.level, h.message,
		"event_id", rec.ID, "event_type", rec.Type, "order_id", id, "order_number", number)
	if h.notifier == nil {
		return nil
	}

	attrs := map[string]string{"orderNumber": number}
	for _, k := range h.attrs {
		if v := p.String(k); v != "" {
			attrs[k] = v
		}
	}
	err = h.notifier.Notify(ctx, domain.Notification{
		Kind:    h.kind,
		OrderID: id,
		EventID: rec.ID,
		Message: fmt.Sprintf("%s: order %s", h.message, number),
		Attrs:   attrs,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify %s for event %d: %w", h.kind, rec.ID, err)
	}
	return nil
}
