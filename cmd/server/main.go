package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yidafu/AquaRush-sub000/internal/api"
	"github.com/yidafu/AquaRush-sub000/internal/config"
	"github.com/yidafu/AquaRush-sub000/internal/domain"
	"github.com/yidafu/AquaRush-sub000/internal/event"
	"github.com/yidafu/AquaRush-sub000/internal/handler"
	"github.com/yidafu/AquaRush-sub000/internal/lock"
	"github.com/yidafu/AquaRush-sub000/internal/notify"
	"github.com/yidafu/AquaRush-sub000/internal/outbox"
	"github.com/yidafu/AquaRush-sub000/internal/payment"
	"github.com/yidafu/AquaRush-sub000/internal/store/postgres"
	"github.com/yidafu/AquaRush-sub000/internal/store/sqlite"
)

func main() {
	cfgPath := flag.String("config", "configs/aqua.yaml", "Path to YAML config (empty = environment only)")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	if err := run(*cfgPath); err != nil {
		slog.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(cfgPath, slog.Default())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := loader.Config()

	level := new(slog.LevelVar)
	setLevel(level, cfg.Log.Level)
	logger := newLogger(cfg.Log.Format, level)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
		otel.SetTracerProvider(tp)
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// ── Stores ───────────────────────────────────────────────────────────────
	be, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer be.close()
	slog.Info("store opened", "driver", cfg.Store.Driver)

	// ── Collaborators ────────────────────────────────────────────────────────
	var notifier domain.Notifier = notify.NewLog(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		k := notify.NewKafka(notify.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer k.Close()
		notifier = k
		slog.Info("kafka notifier enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	payments := payment.NewGateway(cfg.Payment.GatewayURL, cfg.Payment.Timeout, logger)

	var locker outbox.Locker = lock.NewLocal()
	if cfg.Redis.Addr != "" {
		client, err := lock.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = lock.NewRedis(client)
	}

	// ── Processor and coordinator ────────────────────────────────────────────
	registry := handler.NewRegistry()
	proc := outbox.NewProcessor(be.events, registry,
		outbox.WithLogger(logger),
		outbox.WithHandlerTimeout(cfg.Messaging.Outbox.HandlerTimeout),
		outbox.WithFailureHook(handler.FailureAlert(notifier, logger)),
	)
	coord, err := outbox.NewCoordinator(ctx, be.events, proc, outbox.CoordinatorConfig{
		Strategy:      outbox.Strategy(cfg.Messaging.Strategy),
		Workers:       cfg.Messaging.MemoryQueue.Workers,
		QueueDepth:    cfg.Messaging.MemoryQueue.QueueDepth,
		FastPathTypes: eventTypes(cfg.Messaging.MemoryQueue.EventTypes),
	}, logger)
	if err != nil {
		return err
	}

	// ── Handlers ─────────────────────────────────────────────────────────────
	assign := handler.NewDeliveryAssignment(be.orders, be.addresses, be.delivery, coord, logger)
	registry.Register(handler.NewOrderPaid(be.orders, assign, logger))
	registry.Register(assign)
	registry.Register(handler.NewOrderCancelled(be.orders, payments, notifier, logger))
	registry.Register(handler.NewPaymentTimeout(notifier, logger))
	registry.Register(handler.NewDeliveryTimeout(notifier, logger))
	registry.Register(handler.NewOrderAssigned(notifier, logger))
	registry.Register(handler.NewOrderDelivered(notifier, logger))
	slog.Info("handlers registered", "types", registry.Types())

	// ── Background loops ─────────────────────────────────────────────────────
	poller := outbox.NewPoller(be.events, proc, outbox.PollerConfig{
		Interval:     cfg.Messaging.Outbox.PollInterval,
		BatchSize:    cfg.Messaging.Outbox.BatchSize,
		ClaimTimeout: cfg.Messaging.Outbox.ClaimTimeout,
		Mode:         coord.PollerMode(),
	}, logger)
	sweeper := outbox.NewSweeper(be.events, locker, outbox.SweeperConfig{
		Interval: cfg.Messaging.Retention.SweepInterval,
		TTL:      cfg.Messaging.Retention.CompletedTTL,
	}, logger)

	var loops sync.WaitGroup
	loops.Add(2)
	go func() { defer loops.Done(); poller.Run(ctx) }()
	go func() { defer loops.Done(); sweeper.Run(ctx) }()

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		setLevel(level, newCfg.Log.Level)
		coord.SetFastPathTypes(eventTypes(newCfg.Messaging.MemoryQueue.EventTypes))
		slog.Info("config hot-reloaded",
			"log_level", newCfg.Log.Level,
			"fast_path_types", newCfg.Messaging.MemoryQueue.EventTypes)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	opts := []api.Option{api.WithLogger(logger)}
	if be.writer != nil {
		opts = append(opts, api.WithOrderWriter(be.writer))
	}
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.New(coord, be.events, opts...),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.HTTP.Addr, "strategy", coord.Strategy())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err = <-serveErr:
		slog.Error("server error", "err", err)
	}
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	coord.Shutdown() // finish queued fast-path records
	cancel()         // stop poller and sweeper
	loops.Wait()
	slog.Info("goodbye")
	return err
}

// backend bundles the Event Store with the domain collaborators of one
// store driver.
type backend struct {
	events    outbox.Store
	orders    domain.OrderRepository
	delivery  domain.DeliveryService
	addresses domain.AddressRepository
	writer    api.OrderWriter
	close     func()
}

func openBackend(ctx context.Context, cfg config.StoreConf, logger *slog.Logger) (*backend, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		orders := sqlite.NewOrderStore(db)
		return &backend{
			events:    sqlite.NewEventStore(db),
			orders:    orders,
			delivery:  orders,
			addresses: sqlite.NewAddressStore(db),
			writer:    orders,
			close:     func() { _ = db.Close() },
		}, nil

	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		// Validate requires postgres_events_only: orders live in process
		// memory until an order repository exists for this driver.
		logger.Warn("postgres driver keeps orders, addresses and couriers in memory",
			"postgres_events_only", cfg.PostgresEventsOnly)
		orders := domain.NewMemoryOrders()
		return &backend{
			events:    postgres.NewEventStore(pool),
			orders:    orders,
			delivery:  orders,
			addresses: domain.NewMemoryAddresses(),
			close:     pool.Close,
		}, nil

	default: // memory
		orders := domain.NewMemoryOrders()
		return &backend{
			events:    outbox.NewMemoryStore(),
			orders:    orders,
			delivery:  orders,
			addresses: domain.NewMemoryAddresses(),
			close:     func() {},
		}, nil
	}
}

func eventTypes(names []string) []event.Type {
	out := make([]event.Type, 0, len(names))
	for _, n := range names {
		out = append(out, event.Type(n))
	}
	return out
}

func setLevel(v *slog.LevelVar, name string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		l = slog.LevelInfo
	}
	v.Set(l)
}

func newLogger(format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
