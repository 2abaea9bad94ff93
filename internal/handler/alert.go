package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yidafu/AquaRush-sub000/internal/domain"
	"github.com/yidafu/AquaRush-sub000/internal/event"
)

// FailureAlert returns a hook that reports records that exhausted their
// retries. Notifier errors are only logged.
func FailureAlert(n domain.Notifier, logger *slog.Logger) func(context.Context, *event.Record) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, rec *event.Record) {
		if n == nil {
			return
		}
		var orderID int64
		if p, err := event.DecodePayload(rec.Payload); err == nil {
			orderID, _ = p.Int64("orderId")
		}
		err := n.Notify(ctx, domain.Notification{
			Kind:    domain.NotifyEventFailed,
			OrderID: orderID,
			EventID: rec.ID,
			Message: fmt.Sprintf("%s event %d failed after %d attempts: %s", rec.Type, rec.ID, rec.RetryCount, rec.ErrorMessage),
			Attrs:   map[string]string{"eventType": string(rec.Type)},
			SentAt:  time.Now().UTC(),
		})
		if err != nil {
			logger.Error("failed to send event failure alert", "event_id", rec.ID, "err", err)
		}
	}
}
