// Package publisher adapts broker clients to the outbox worker.
package publisher

import (
	"context"
	"log/slog"

	"tumi/internal/outbox/models"
)

// Sender is implemented by the Kafka producer and the AMQP publisher.
type Sender interface {
	Publish(ctx context.Context, key string, body []byte, headers map[string]string) error
}

// Broker publishes outbox messages through a Sender, deriving the record key
// from the message.
type Broker struct {
	sender Sender
	key    func(models.Message) string
}

// Kafka keys records by aggregate id so all messages for one payment land on
// the same partition in order.
func Kafka(s Sender) *Broker {
	return &Broker{sender: s, key: func(m models.Message) string { return m.AggregateID }}
}

// AMQP uses the event type as routing key so consumers can bind with
// patterns such as "payment.*".
func AMQP(s Sender) *Broker {
	return &Broker{sender: s, key: func(m models.Message) string { return m.EventType }}
}

func (b *Broker) Publish(ctx context.Context, m models.Message) error {
	return b.sender.Publish(ctx, b.key(m), m.Payload, m.Headers())
}

// Log writes messages to the logger only. Used when no broker is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(ctx context.Context, m models.Message) error {
	l.logger.InfoContext(ctx, "outbox message",
		"message_id", m.ID.String(),
		"aggregate_type", m.AggregateType,
		"aggregate_id", m.AggregateID,
		"event_type", m.EventType,
	)
	return nil
}
