package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/yidafu/AquaRush-sub000/internal/metrics"
	"github.com/yidafu/AquaRush-sub000/internal/telemetry"
)

const sweepLockKey = "aqua:outbox:retention-sweep"

// SweeperConfig tunes retention.
type SweeperConfig struct {
	Interval time.Duration
	TTL      time.Duration
}

// DefaultSweeperConfig sweeps hourly and keeps completed records for 30 days.
var DefaultSweeperConfig = SweeperConfig{
	Interval: time.Hour,
	TTL:      30 * 24 * time.Hour,
}

// Sweeper deletes COMPLETED records past their retention window.
// PENDING and FAILED records are never touched.
type Sweeper struct {
	store  Store
	locker Locker
	cfg    SweeperConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewSweeper creates a Sweeper. A nil locker means every instance sweeps.
func NewSweeper(store Store, locker Locker, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweeperConfig.Interval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSweeperConfig.TTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  store,
		locker: locker,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "sweeper"),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("retention sweeper started", "interval", s.cfg.Interval, "ttl", s.cfg.TTL)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("error cleaning up completed events", "err", err)
			}
		}
	}
}

// SweepOnce deletes completed records created before now minus TTL.
func (s *Sweeper) SweepOnce(ctx context.Context) (n int64, err error) {
	ctx, span := telemetry.StartSweepSpan(ctx)
	defer func() { telemetry.EndSpan(span, err) }()

	if s.locker != nil {
		release, ok, lerr := s.locker.TryLock(ctx, sweepLockKey, s.cfg.Interval)
		if lerr != nil {
			return 0, lerr
		}
		if !ok {
			s.logger.Debug("another instance holds the sweep lock")
			return 0, nil
		}
		defer release()
	}

	cutoff := s.now().Add(-s.cfg.TTL)
	n, err = s.store.DeleteCompletedOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.CompletedSwept.Add(float64(n))
	s.logger.Info("cleaned up completed events", "deleted", n, "cutoff", cutoff)
	return n, nil
}
