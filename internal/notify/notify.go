// Package notify delivers domain notifications to users, couriers and
// operators.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yidafu/AquaRush-sub000/internal/domain"
)

// MessageWriter is the subset of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a writer for topic. Messages with the same key (the
// order id) land on the same partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Kafka publishes each notification as a JSON message.
type Kafka struct {
	writer MessageWriter
	now    func() time.Time
}

var _ domain.Notifier = (*Kafka)(nil)

func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{writer: w, now: time.Now}
}

// Notify implements domain.Notifier.
func (k *Kafka) Notify(ctx context.Context, n domain.Notification) error {
	if n.SentAt.IsZero() {
		n.SentAt = k.now().UTC()
	}
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := n.Kind
	if n.OrderID != 0 {
		key = strconv.FormatInt(n.OrderID, 10)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s notification: %w", n.Kind, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Log writes notifications to the logger. Used when no broker is configured.
type Log struct {
	logger *slog.Logger
}

var _ domain.Notifier = (*Log)(nil)

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Notify implements domain.Notifier.
func (l *Log) Notify(ctx context.Context, n domain.Notification) error {
	args := []any{"kind", n.Kind, "message", n.Message}
	if n.OrderID != 0 {
		args = append(args, "order_id", n.OrderID)
	}
	if n.EventID != 0 {
		args = append(args, "event_id", n.EventID)
	}
	for k, v := range n.Attrs {
		args = append(args, k, v)
	}
	level := slog.LevelInfo
	if n.Kind == domain.NotifyRefundFailed || n.Kind == domain.NotifyEventFailed {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "notification", args...)
	return nil
}
