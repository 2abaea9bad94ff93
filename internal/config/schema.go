package config

import "time"

// Config is the top-level YAML structure. Every key can be overridden by the
// environment variable named in its env tag.
type Config struct {
	Log       LogConf       `yaml:"log"`
	HTTP      HTTPConf      `yaml:"http"`
	Store     StoreConf     `yaml:"store"`
	Messaging MessagingConf `yaml:"messaging"`
	Redis     RedisConf     `yaml:"redis"`
	Kafka     KafkaConf     `yaml:"kafka"`
	Payment   PaymentConf   `yaml:"payment"`
	Tracing   TracingConf   `yaml:"tracing"`
}

type LogConf struct {
	Level  string `yaml:"level" env:"AQUA_LOG_LEVEL"`
	Format string `yaml:"format" env:"AQUA_LOG_FORMAT"` // text | json
}

type HTTPConf struct {
	Addr string `yaml:"addr" env:"AQUA_HTTP_ADDR"`
}

type StoreConf struct {
	Driver      string `yaml:"driver" env:"AQUA_STORE_DRIVER"` // sqlite | postgres | memory
	SQLitePath  string `yaml:"sqlite_path" env:"AQUA_SQLITE_PATH"`
	PostgresDSN string `yaml:"postgres_dsn" env:"AQUA_POSTGRES_DSN"`
	// Postgres holds only the event table; orders, addresses and couriers
	// stay in process memory. Must be set to run the postgres driver.
	PostgresEventsOnly bool `yaml:"postgres_events_only" env:"AQUA_POSTGRES_EVENTS_ONLY"`
}

type MessagingConf struct {
	Strategy    string        `yaml:"strategy" env:"AQUA_MESSAGING_STRATEGY"`
	MemoryQueue MemoryQueue   `yaml:"memory_queue"`
	Outbox      OutboxConf    `yaml:"outbox"`
	Retention   RetentionConf `yaml:"retention"`
}

// MemoryQueue tunes the hybrid fast path. A nil EventTypes gets the default
// set; an explicit empty list makes every type eligible.
type MemoryQueue struct {
	Workers    int      `yaml:"workers" env:"AQUA_MEMORY_WORKERS"`
	QueueDepth int      `yaml:"queue_depth" env:"AQUA_MEMORY_QUEUE_DEPTH"`
	EventTypes []string `yaml:"event_types" env:"AQUA_FAST_PATH_TYPES"`
}

type OutboxConf struct {
	PollInterval   time.Duration `yaml:"poll_interval" env:"AQUA_POLL_INTERVAL"`
	BatchSize      int           `yaml:"batch_size" env:"AQUA_BATCH_SIZE"`
	ClaimTimeout   time.Duration `yaml:"claim_timeout" env:"AQUA_CLAIM_TIMEOUT"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"AQUA_HANDLER_TIMEOUT"`
}

type RetentionConf struct {
	SweepInterval time.Duration `yaml:"sweep_interval" env:"AQUA_SWEEP_INTERVAL"`
	CompletedTTL  time.Duration `yaml:"completed_ttl" env:"AQUA_COMPLETED_TTL"`
}

// RedisConf enables the shared sweep lock. Empty Addr means a local lock.
type RedisConf struct {
	Addr     string `yaml:"addr" env:"AQUA_REDIS_ADDR"`
	Password string `yaml:"password" env:"AQUA_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"AQUA_REDIS_DB"`
}

// KafkaConf enables the Kafka notifier. Empty Brokers means log only.
type KafkaConf struct {
	Brokers []string `yaml:"brokers" env:"AQUA_KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"AQUA_KAFKA_TOPIC"`
}

type PaymentConf struct {
	GatewayURL string        `yaml:"gateway_url" env:"AQUA_PAYMENT_GATEWAY_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"AQUA_PAYMENT_TIMEOUT"`
}

type TracingConf struct {
	Enabled bool `yaml:"enabled" env:"AQUA_TRACING_ENABLED"`
}

// DefaultFastPathTypes are the event types the hybrid strategy dispatches
// in memory unless configured otherwise.
var DefaultFastPathTypes = []string{"ORDER_PAID", "PAYMENT_TIMEOUT", "DELIVERY_TIMEOUT"}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "aqua.db"
	}

	m := &cfg.Messaging
	if m.Strategy == "" {
		m.Strategy = "hybrid"
	}
	if m.MemoryQueue.Workers == 0 {
		m.MemoryQueue.Workers = 4
	}
	if m.MemoryQueue.QueueDepth == 0 {
		m.MemoryQueue.QueueDepth = 5000
	}
	if m.MemoryQueue.EventTypes == nil {
		m.MemoryQueue.EventTypes = append([]string(nil), DefaultFastPathTypes...)
	}
	if m.Outbox.PollInterval == 0 {
		m.Outbox.PollInterval = 60 * time.Second
	}
	if m.Outbox.BatchSize == 0 {
		m.Outbox.BatchSize = 100
	}
	if m.Outbox.ClaimTimeout == 0 {
		m.Outbox.ClaimTimeout = 15 * time.Minute
	}
	if m.Retention.SweepInterval == 0 {
		m.Retention.SweepInterval = time.Hour
	}
	if m.Retention.CompletedTTL == 0 {
		m.Retention.CompletedTTL = 720 * time.Hour
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "aqua.notifications"
	}
	if cfg.Payment.Timeout == 0 {
		cfg.Payment.Timeout = 10 * time.Second
	}
}
