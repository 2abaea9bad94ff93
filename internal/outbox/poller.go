package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/yidafu/AquaRush-sub000/internal/metrics"
)

// Poller modes. In hybrid mode the poller is the fallback for whatever the
// in-memory path did not finish.
const (
	ModePrimary  = "primary"
	ModeFallback = "fallback"
)

// PollerConfig tunes the poll loop.
type PollerConfig struct {
	Interval     time.Duration
	BatchSize    int
	ClaimTimeout time.Duration
	Mode         string
}

// DefaultPollerConfig mirrors the baseline cadence.
var DefaultPollerConfig = PollerConfig{
	Interval:     60 * time.Second,
	BatchSize:    100,
	ClaimTimeout: 15 * time.Minute,
	Mode:         ModePrimary,
}

// Poller periodically claims due records and runs them through the Processor.
type Poller struct {
	store  Store
	proc   *Processor
	cfg    PollerConfig
	logger *slog.Logger
}

// NewPoller creates a Poller; zero config fields take DefaultPollerConfig values.
func NewPoller(store Store, proc *Processor, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollerConfig.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPollerConfig.BatchSize
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = DefaultPollerConfig.ClaimTimeout
	}
	if cfg.Mode == "" {
		cfg.Mode = DefaultPollerConfig.Mode
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{store: store, proc: proc, cfg: cfg, logger: logger.With("component", "poller", "mode", cfg.Mode)}
}

// Run polls immediately and then on every tick until ctx is cancelled.
// Ticks that arrive while a cycle is still running are dropped, so cycles never overlap.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.cfg.Interval, "batch_size", p.cfg.BatchSize)
	p.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	n, err := p.PollOnce(ctx)
	if err != nil {
		p.logger.Error("poll cycle failed", "processed", n, "err", err)
		return
	}
	if n > 0 {
		p.logger.Info("poll cycle finished", "processed", n)
	}
}

// PollOnce recovers stale claims, then claims and processes up to BatchSize
// due records one at a time, oldest first. It returns how many records it handled.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	metrics.PollCycles.WithLabelValues(p.cfg.Mode).Inc()

	handled, err := p.recoverStale(ctx)
	if err != nil {
		return handled, err
	}

	for i := 0; i < p.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			return handled, nil
		}
		rec, ok, err := p.store.ClaimNext(ctx, p.proc.Now(), NewClaimToken())
		if err != nil {
			return handled, err
		}
		if !ok {
			break
		}
		// One failed save must not stop the siblings in this batch.
		if _, err := p.proc.Execute(ctx, rec, PathPoller); err != nil {
			p.logger.Error("event outcome not persisted", "event_id", rec.ID, "err", err)
		}
		handled++
	}
	return handled, nil
}

func (p *Poller) recoverStale(ctx context.Context) (int, error) {
	n := 0
	for n < p.cfg.BatchSize {
		now := p.proc.Now()
		rec, ok, err := p.store.ReclaimStale(ctx, now.Add(-p.cfg.ClaimTimeout), NewClaimToken(), now)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		p.logger.Warn("recovering event parked in PROCESSING", "event_id", rec.ID, "event_type", rec.Type)
		if _, err := p.proc.Expire(ctx, rec); err != nil {
			p.logger.Error("stale event outcome not persisted", "event_id", rec.ID, "err", err)
		}
		n++
	}
	return n, nil
}
