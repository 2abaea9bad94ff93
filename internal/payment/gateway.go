// Package payment talks to the external payment gateway.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yidafu/AquaRush-sub000/internal/domain"
)

// Gateway implements domain.PaymentService over the gateway's JSON API.
type Gateway struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

var _ domain.PaymentService = (*Gateway)(nil)

// NewGateway returns a client for the refund endpoint at url. With an empty
// url every refund is rejected.
func NewGateway(url string, timeout time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type refundBody struct {
	TransactionID string `json:"transaction_id"`
	RefundAmount  int64  `json:"refund_amount"`
	TotalAmount   int64  `json:"total_amount"`
	Reason        string `json:"reason,omitempty"`
}

type refundReply struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// IdempotencyKey is stable per transaction so a retried cancellation cannot
// refund twice.
func IdempotencyKey(transactionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("aquarush:refund:"+transactionID)).String()
}

// Refund implements domain.PaymentService. A 4xx reply wraps
// domain.ErrRefundRejected; transport errors and 5xx replies do not.
func (g *Gateway) Refund(ctx context.Context, req domain.RefundRequest) (string, error) {
	if g.url == "" {
		return "", fmt.Errorf("%w: no payment gateway configured", domain.ErrRefundRejected)
	}

	body, err := json.Marshal(refundBody{
		TransactionID: req.TransactionID,
		RefundAmount:  req.RefundAmount,
		TotalAmount:   req.TotalAmount,
		Reason:        req.Reason,
	})
	if err != nil {
		return "", fmt.Errorf("encode refund request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build refund request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", IdempotencyKey(req.TransactionID))

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("refund %s: %w", req.TransactionID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read refund response: %w", err)
	}

	var reply refundReply
	_ = json.Unmarshal(raw, &reply)

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("refund %s: gateway status %d", req.TransactionID, resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: %s (status %d)", domain.ErrRefundRejected, reply.Message, resp.StatusCode)
	}
	if reply.RefundID == "" {
		return "", fmt.Errorf("refund %s: response missing refund_id", req.TransactionID)
	}

	g.logger.Info("refund accepted",
		"transaction_id", req.TransactionID,
		"refund_id", reply.RefundID,
		"amount", req.RefundAmount)
	return reply.RefundID, nil
}
