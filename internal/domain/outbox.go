package domain

import (
	"encoding/json"
	"time"
)

const (
	// AggregateTypeOrder: тип агрегата для событий заказа.
	AggregateTypeOrder = "order"
	// EventTypeOrderPlaced: заказ создан, остатки списаны.
	EventTypeOrderPlaced = "order.placed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OrderPlacedLine: позиция в событии order.placed.
type OrderPlacedLine struct {
	ProductID  string `json:"product_id"`
	Quantity   int64  `json:"quantity"`
	PriceMinor int64  `json:"price_minor"`
}

// OrderPlacedStock: остаток товара после оформления.
type OrderPlacedStock struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// OrderPlacedPayload: тело события order.placed.
type OrderPlacedPayload struct {
	OrderID     string             `json:"order_id"`
	CustomerID  string             `json:"customer_id"`
	AmountMinor int64              `json:"amount_minor"`
	Lines       []OrderPlacedLine  `json:"lines"`
	Stock       []OrderPlacedStock `json:"stock"`
	PlacedAt    time.Time          `json:"placed_at"`
}

// OutboxDeadLetter: запись о событии, которое не удалось опубликовать после всех попыток.
// Payload содержит исходное тело события без изменений.
type OutboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"failed_at"`
}
