package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "checkout.order.events"
	TopicDeadLetterQueue = "checkout.dlq"
)

// Kafka headers.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderReplayedAt    = "x-replayed-at"
)

// Envelope: формат сообщения, которое outbox публикует в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   time.Now().UTC(),
	}
}

// Key: ключ партиционирования: события одного заказа попадают в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// ParseEnvelope разбирает сообщение из topic событий.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return envelope, nil
}

// ParseOrderPlaced разбирает событие order.placed.
func ParseOrderPlaced(message *sarama.ConsumerMessage) (domain.OrderPlacedPayload, error) {
	envelope, err := ParseEnvelope(message)
	if err != nil {
		return domain.OrderPlacedPayload{}, err
	}
	if envelope.EventType != domain.EventTypeOrderPlaced {
		return domain.OrderPlacedPayload{}, fmt.Errorf("unexpected event type %q", envelope.EventType)
	}

	var payload domain.OrderPlacedPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return domain.OrderPlacedPayload{}, fmt.Errorf("failed to unmarshal order placed payload: %w", err)
	}
	return payload, nil
}
