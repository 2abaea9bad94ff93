package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yidafu/AquaRush-sub000/internal/event"
	"github.com/yidafu/AquaRush-sub000/internal/metrics"
	"github.com/yidafu/AquaRush-sub000/internal/outbox"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// OrderWriter changes an order and appends its event in one transaction.
type OrderWriter interface {
	MarkPaid(ctx context.Context, orderID int64, transactionID string) (*event.Record, error)
	Cancel(ctx context.Context, orderID int64, reason string) (*event.Record, error)
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	coord  *outbox.Coordinator
	store  outbox.Store
	orders OrderWriter
	logger *slog.Logger
	mux    *http.ServeMux
}

type Option func(*Handler)

// WithOrderWriter enables the order routes.
func WithOrderWriter(w OrderWriter) Option {
	return func(h *Handler) { h.orders = w }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates an HTTP handler and registers all routes.
func New(coord *outbox.Coordinator, store outbox.Store, opts ...Option) http.Handler {
	h := &Handler{coord: coord, store: store, logger: slog.Default(), mux: http.NewServeMux()}
	for _, o := range opts {
		o(h)
	}

	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	h.mux.HandleFunc("GET /v1/status", h.status)
	h.mux.HandleFunc("GET /v1/events", h.listEvents)
	h.mux.HandleFunc("GET /v1/events/{id}", h.getEvent)
	h.mux.HandleFunc("POST /v1/events", h.publishEvent)
	h.mux.HandleFunc("POST /v1/events/{id}/replay", h.replayEvent)

	if h.orders != nil {
		h.mux.HandleFunc("POST /v1/orders/{id}/pay", h.payOrder)
		h.mux.HandleFunc("POST /v1/orders/{id}/cancel", h.cancelOrder)
	}

	return loggingMiddleware(h.logger, h.mux)
}

// GET /v1/status: strategy, fast path and counts by status.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.coord.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /v1/events?status=FAILED&limit=50: newest first.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	status := event.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	recs, err := h.store.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*event.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": recs,
		"count":  len(recs),
	})
}

// GET /v1/events/{id}
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type publishRequest struct {
	Type    event.Type    `json:"type"`
	Payload event.Payload `json:"payload"`
}

// POST /v1/events: append an event outside a business transaction.
func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "event type is required")
		return
	}
	if req.Payload == nil {
		req.Payload = event.Payload{}
	}

	rec, err := h.coord.Publish(r.Context(), req.Type, req.Payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// POST /v1/events/{id}/replay: new PENDING copy of a FAILED event.
func (h *Handler) replayEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.coord.Replay(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"replayed_from": id,
		"event":         rec,
	})
}

type payRequest struct {
	TransactionID string `json:"transaction_id"`
}

// POST /v1/orders/{id}/pay
func (h *Handler) payOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}
	rec, err := h.orders.MarkPaid(r.Context(), id, req.TransactionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	metrics.EventsAppended.WithLabelValues(string(rec.Type)).Inc()
	h.coord.Enqueue(rec)
	writeJSON(w, http.StatusAccepted, rec)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// POST /v1/orders/{id}/cancel: body is optional.
func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
			return
		}
	}
	rec, err := h.orders.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	metrics.EventsAppended.WithLabelValues(string(rec.Type)).Inc()
	h.coord.Enqueue(rec)
	writeJSON(w, http.StatusAccepted, rec)
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the memory queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.coord.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
