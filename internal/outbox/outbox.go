// Package outbox writes domain events and alerts in the same transaction as
// the state change they describe, and publishes them to Kafka afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	id "kinledger/pkg/domain"
	"kinledger/pkg/requestcontext"
)

// Message is one outbox row.
type Message struct {
	ID          id.MessageID    `json:"id"`
	Topic       string          `json:"topic"`
	Key         string          `json:"key"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	Attempts    int             `json:"attempts"`
}

// Store persists messages. Insert joins the transaction in ctx. Claim locks
// the oldest unpublished rows for the rest of the transaction.
type Store interface {
	Insert(ctx context.Context, m *Message) error
	Claim(ctx context.Context, limit int) ([]*Message, error)
	MarkPublished(ctx context.Context, ids []id.MessageID, at time.Time) error
	MarkAttempted(ctx context.Context, ids []id.MessageID) error
}

// Writer appends messages to the outbox.
type Writer struct {
	store       Store
	eventsTopic string
	alertsTopic string
}

func NewWriter(store Store, eventsTopic, alertsTopic string) *Writer {
	return &Writer{store: store, eventsTopic: eventsTopic, alertsTopic: alertsTopic}
}

// envelope is the JSON value published for every message.
type envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id,omitempty"`
	Data       any       `json:"data"`
}

// Emit records a domain event on the events topic.
func (w *Writer) Emit(ctx context.Context, eventType, key string, payload any) error {
	return w.write(ctx, w.eventsTopic, eventType, key, payload)
}

// Alert records an operator alert on the alerts topic.
func (w *Writer) Alert(ctx context.Context, alertType, key string, payload any) error {
	return w.write(ctx, w.alertsTopic, alertType, key, payload)
}

func (w *Writer) write(ctx context.Context, topic, eventType, key string, payload any) error {
	now := requestcontext.Now(ctx)
	raw, err := json.Marshal(envelope{
		Type:       eventType,
		OccurredAt: now,
		RequestID:  requestcontext.RequestID(ctx),
		Data:       payload,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	return w.store.Insert(ctx, &Message{
		ID:        id.NewMessageID(),
		Topic:     topic,
		Key:       key,
		EventType: eventType,
		Payload:   raw,
		CreatedAt: now,
	})
}
