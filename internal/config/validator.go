package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for:
//   - Known enum values (log level and format, store driver, strategy)
//   - Connection settings required by the chosen store driver
//   - Positive intervals, sizes and timeouts
func Validate(cfg *Config) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		add("log.format: must be text or json, got %q", cfg.Log.Format)
	}

	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			add("store.sqlite_path: required for the sqlite driver")
		}
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			add("store.postgres_dsn: required for the postgres driver")
		}
		if !cfg.Store.PostgresEventsOnly {
			add("store.postgres_events_only: must be true, the postgres driver has no order repository and keeps orders in memory")
		}
	case "memory":
	default:
		add("store.driver: must be sqlite, postgres or memory, got %q", cfg.Store.Driver)
	}

	m := cfg.Messaging
	switch m.Strategy {
	case "outbox-only", "hybrid":
	default:
		add("messaging.strategy: must be outbox-only or hybrid, got %q", m.Strategy)
	}
	if m.MemoryQueue.Workers < 1 {
		add("messaging.memory_queue.workers: must be at least 1")
	}
	if m.MemoryQueue.QueueDepth < 1 {
		add("messaging.memory_queue.queue_depth: must be at least 1")
	}
	for i, t := range m.MemoryQueue.EventTypes {
		if strings.TrimSpace(t) == "" {
			add("messaging.memory_queue.event_types[%d]: must not be blank", i)
		}
	}
	if m.Outbox.PollInterval <= 0 {
		add("messaging.outbox.poll_interval: must be positive")
	}
	if m.Outbox.BatchSize < 1 {
		add("messaging.outbox.batch_size: must be at least 1")
	}
	if m.Outbox.ClaimTimeout <= 0 {
		add("messaging.outbox.claim_timeout: must be positive")
	}
	if m.Outbox.HandlerTimeout < 0 {
		add("messaging.outbox.handler_timeout: must not be negative")
	}
	if m.Outbox.HandlerTimeout > 0 && m.Outbox.HandlerTimeout >= m.Outbox.ClaimTimeout {
		add("messaging.outbox.handler_timeout: must be shorter than claim_timeout")
	}
	if m.Retention.SweepInterval <= 0 {
		add("messaging.retention.sweep_interval: must be positive")
	}
	if m.Retention.CompletedTTL <= 0 {
		add("messaging.retention.completed_ttl: must be positive")
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		add("kafka.topic: required when brokers are set")
	}
	if cfg.Payment.Timeout <= 0 {
		add("payment.timeout: must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
