package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Topics для Kafka
const (
	TopicSalesEvents     = "pos.sales.events"
	TopicDeadLetterQueue = "pos.sales.dlq" // события, которые не удалось опубликовать
)

// Kafka headers сообщений продаж
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
)

// Envelope — обёртка, в которой outbox-сообщение уходит в topic.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение. Пустой payload заменяется на {}.
func NewEnvelope(msg domain.OutboxMessage) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   time.Now().UTC(),
	}
}

// ParseEnvelope разбирает сообщение из topic продаж.
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

// SaleEvent извлекает событие продажи из payload конверта.
func (e *Envelope) SaleEvent() (*domain.SaleEvent, error) {
	if e.AggregateType != domain.SaleAggregateType {
		return nil, fmt.Errorf("unexpected aggregate type %q", e.AggregateType)
	}
	var event domain.SaleEvent
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sale event: %w", err)
	}
	return &event, nil
}
