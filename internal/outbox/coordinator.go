package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/yidafu/AquaRush-sub000/internal/event"
	"github.com/yidafu/AquaRush-sub000/internal/metrics"
)

// Strategy selects the operational mode of the outbox.
type Strategy string

const (
	StrategyOutboxOnly Strategy = "outbox-only"
	StrategyHybrid     Strategy = "hybrid"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyOutboxOnly || s == StrategyHybrid
}

// CoordinatorConfig configures the in-memory fast path.
type CoordinatorConfig struct {
	Strategy   Strategy
	Workers    int
	QueueDepth int
	// FastPathTypes limits which event types ride the memory queue.
	// Empty means every type is eligible.
	FastPathTypes []event.Type
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Strategy      Strategy               `json:"strategy"`
	PollerMode    string                 `json:"poller_mode"`
	FastPathTypes []event.Type           `json:"fast_path_types"`
	QueueLen      int                    `json:"queue_len"`
	QueueCap      int                    `json:"queue_cap"`
	Utilization   float64                `json:"queue_utilization"`
	Counts        map[event.Status]int64 `json:"counts"`
}

// Coordinator is the entry point for publishing events. Every event is
// appended to the Store first; in hybrid mode eligible events are also
// handed to the memory pool. Anything the pool does not finish stays PENDING
// in the Store for the Poller.
type Coordinator struct {
	store    Store
	proc     *Processor
	strategy Strategy
	pool     *workerPool[int64]
	fast     atomic.Pointer[map[event.Type]struct{}]
	logger   *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// NewCoordinator creates a Coordinator. In hybrid mode it starts the memory
// workers, which stop when ctx is cancelled or Shutdown is called.
func NewCoordinator(ctx context.Context, store Store, proc *Processor, cfg CoordinatorConfig, logger *slog.Logger) (*Coordinator, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyHybrid
	}
	if !cfg.Strategy.Valid() {
		return nil, fmt.Errorf("unknown messaging strategy %q", cfg.Strategy)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:    store,
		proc:     proc,
		strategy: cfg.Strategy,
		logger:   logger.With("component", "coordinator"),
	}
	c.SetFastPathTypes(cfg.FastPathTypes)
	if cfg.Strategy == StrategyHybrid {
		c.pool = newWorkerPool(ctx, cfg.Workers, cfg.QueueDepth, c.runMemory)
	}
	c.logger.Info("messaging strategy selected", "strategy", cfg.Strategy, "poller_mode", c.PollerMode())
	return c, nil
}

// Strategy returns the configured strategy.
func (c *Coordinator) Strategy() Strategy {
	return c.strategy
}

// PollerMode reports whether the poller is the primary or fallback path.
func (c *Coordinator) PollerMode() string {
	if c.strategy == StrategyHybrid {
		return ModeFallback
	}
	return ModePrimary
}

// SetFastPathTypes replaces the set of types eligible for the memory path.
// Safe to call while events are being published.
func (c *Coordinator) SetFastPathTypes(types []event.Type) {
	set := make(map[event.Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	c.fast.Store(&set)
}

// FastPathTypes returns the eligible types, sorted.
func (c *Coordinator) FastPathTypes() []event.Type {
	set := *c.fast.Load()
	out := make([]event.Type, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Coordinator) eligible(t event.Type) bool {
	set := *c.fast.Load()
	if len(set) == 0 {
		return true
	}
	_, ok := set[t]
	return ok
}

// Publish durably appends a new record and, when eligible, schedules it on
// the memory path. The record is safe once Publish returns nil.
func (c *Coordinator) Publish(ctx context.Context, t event.Type, payload event.Payload) (*event.Record, error) {
	rec, err := event.New(t, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	if err := c.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("append %s event: %w", t, err)
	}
	metrics.EventsAppended.WithLabelValues(string(t)).Inc()
	c.Enqueue(rec)
	return rec, nil
}

// ErrNotReplayable is returned when replay is asked for a record that has
// not terminally failed.
var ErrNotReplayable = errors.New("only FAILED events can be replayed")

// Replay appends a fresh PENDING copy of a FAILED record. The failed record
// stays as it is for the audit trail.
func (c *Coordinator) Replay(ctx context.Context, id int64) (*event.Record, error) {
	orig, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != event.StatusFailed {
		return nil, fmt.Errorf("event %d is %s: %w", id, orig.Status, ErrNotReplayable)
	}
	rec := &event.Record{Type: orig.Type, Payload: orig.Payload}
	if err := c.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("append replay of event %d: %w", id, err)
	}
	metrics.EventsAppended.WithLabelValues(string(rec.Type)).Inc()
	c.logger.Info("failed event replayed", "event_id", id, "replay_id", rec.ID, "event_type", rec.Type)
	c.Enqueue(rec)
	return rec, nil
}

// Enqueue offers an already persisted record to the memory path. It returns
// false when the record stays with the poller: outbox-only mode, an
// ineligible type, a full queue or a stopped coordinator.
func (c *Coordinator) Enqueue(rec *event.Record) bool {
	if c.pool == nil || !c.eligible(rec.Type) {
		return false
	}
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return false
	}

	if !c.pool.Submit(rec.ID) {
		metrics.MemoryQueueDropped.Inc()
		c.logger.Warn("memory queue full, leaving event to the poller", "event_id", rec.ID, "event_type", rec.Type)
		return false
	}
	metrics.MemoryQueueEnqueued.Inc()
	metrics.QueueUtilization.Set(c.QueueUtilization())
	return true
}

func (c *Coordinator) runMemory(ctx context.Context, id int64) {
	defer metrics.QueueUtilization.Set(c.QueueUtilization())

	rec, ok, err := c.store.Claim(ctx, id, NewClaimToken(), c.proc.Now())
	if err != nil {
		c.logger.Error("memory path claim failed", "event_id", id, "err", err)
		return
	}
	if !ok {
		// Already taken by the poller or another instance.
		c.logger.Debug("event no longer claimable", "event_id", id)
		return
	}
	if _, err := c.proc.Execute(ctx, rec, PathMemory); err != nil {
		c.logger.Error("memory path outcome not persisted", "event_id", id, "err", err)
	}
}

// QueueUtilization returns the memory queue fill ratio in [0, 1].
func (c *Coordinator) QueueUtilization() float64 {
	if c.pool == nil || c.pool.QueueCap() == 0 {
		return 0
	}
	return float64(c.pool.QueueLen()) / float64(c.pool.QueueCap())
}

// Status reports the coordinator state along with record counts from the Store.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Strategy:      c.strategy,
		PollerMode:    c.PollerMode(),
		FastPathTypes: c.FastPathTypes(),
		Utilization:   c.QueueUtilization(),
		Counts:        counts,
	}
	if c.pool != nil {
		st.QueueLen = c.pool.QueueLen()
		st.QueueCap = c.pool.QueueCap()
	}
	return st, nil
}

// Shutdown stops intake and waits for queued records to finish.
// Records still queued when the workers' context ends remain PENDING.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	if c.pool != nil {
		c.pool.Drain()
	}
	c.logger.Info("coordinator stopped")
}
