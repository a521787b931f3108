package domain

import "time"

// SaleEventType — тип события продажи, публикуемого через outbox.
type SaleEventType string

const (
	SaleEventCompleted     SaleEventType = "sale.completed"
	SaleEventQueued        SaleEventType = "sale.queued"
	SaleEventPendingSynced SaleEventType = "pending.synced"
)

// SaleAggregateType — aggregate_type outbox-сообщений продаж.
const SaleAggregateType = "sale"

// SaleEvent — полезная нагрузка события продажи. SubmissionKey совпадает с
// idempotency-key заказа и служит ключом партиционирования.
type SaleEvent struct {
	EventType     SaleEventType `json:"event_type"`
	SubmissionKey string        `json:"submission_key"`
	CartID        string        `json:"cart_id,omitempty"`
	OrderID       int64         `json:"order_id,omitempty"`
	OrderNumber   string        `json:"order_number,omitempty"`
	Subtotal      string        `json:"subtotal,omitempty"`
	ItemsCount    int           `json:"items_count,omitempty"`
	Attempts      int           `json:"attempts,omitempty"`
	Error         string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}
