// Package models holds outbox messages written alongside business changes.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one row of the outbox table.
type Message struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// NewMessage marshals payload and stamps the message at now.
func NewMessage(aggregateType, aggregateID, eventType string, payload any, now time.Time) (Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal outbox payload: %w", err)
	}
	return Message{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       b,
		CreatedAt:     now,
	}, nil
}

// Headers are attached to the broker record so consumers can route without
// decoding the payload.
func (m Message) Headers() map[string]string {
	return map[string]string{
		"message_id":     m.ID.String(),
		"aggregate_type": m.AggregateType,
		"event_type":     m.EventType,
	}
}
