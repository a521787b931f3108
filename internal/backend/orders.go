package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type wireConfirmation struct {
	ID       int64           `json:"id"`
	Number   json.RawMessage `json:"number"`
	Status   string          `json:"status"`
	Total    json.RawMessage `json:"total"`
	Currency string          `json:"currency"`
}

// CreateOrder отправляет POST /orders. Ключ продажи уходит в Idempotency-Key,
// поэтому повтор той же продажи не создаёт второй заказ и запрос можно повторять.
func (c *Client) CreateOrder(ctx context.Context, idempotencyKey string, req domain.OrderRequest) (domain.OrderConfirmation, error) {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers[HeaderIdempotencyKey] = idempotencyKey
	}

	var wire wireConfirmation
	err := c.call(ctx, "create_order", request{
		method:    http.MethodPost,
		path:      "/orders",
		body:      req,
		headers:   headers,
		retryable: idempotencyKey != "",
	}, &wire)
	if err != nil {
		return domain.OrderConfirmation{}, err
	}

	number := rawString(wire.Number)
	if number == "" {
		number = strings.Trim(string(wire.Number), `"`)
	}
	if number == "" || number == "null" {
		number = strconv.FormatInt(wire.ID, 10)
	}
	return domain.OrderConfirmation{
		ID:       wire.ID,
		Number:   number,
		Status:   wire.Status,
		Total:    lenientAmount(wire.Total),
		Currency: wire.Currency,
	}, nil
}

type wireOrderRecord struct {
	ID            int64           `json:"id"`
	DateCreated   string          `json:"date_created"`
	Total         json.RawMessage `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	CustomerName  string          `json:"customer_name"`
	Billing       struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"billing"`
	LineItems []struct {
		Name     string          `json:"name"`
		Quantity flexInt         `json:"quantity"`
		Total    json.RawMessage `json:"total"`
	} `json:"line_items"`
}

var orderDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", domain.DateLayout}

func parseOrderDate(s string) time.Time {
	for _, layout := range orderDateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (w wireOrderRecord) toDomain() domain.OrderRecord {
	name := strings.TrimSpace(w.CustomerName)
	if name == "" {
		name = strings.TrimSpace(w.Billing.FirstName + " " + w.Billing.LastName)
	}
	rec := domain.OrderRecord{
		ID:            w.ID,
		CreatedAt:     parseOrderDate(w.DateCreated),
		Total:         lenientAmount(w.Total),
		PaymentMethod: w.PaymentMethod,
		CustomerName:  name,
		Items:         make([]domain.OrderRecordItem, 0, len(w.LineItems)),
	}
	for _, item := range w.LineItems {
		rec.Items = append(rec.Items, domain.OrderRecordItem{
			Name:     item.Name,
			Quantity: int(item.Quantity),
			Total:    lenientAmount(item.Total),
		})
	}
	return rec
}

// ListOrders загружает заказы за период через GET /orders.
func (c *Client) ListOrders(ctx context.Context, r domain.DateRange) ([]domain.OrderRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var wire []wireOrderRecord
	if err := c.call(ctx, "list_orders", request{
		method:    http.MethodGet,
		path:      "/orders",
		query:     rangeQuery(r, url.Values{"per_page": {"100"}}),
		retryable: true,
	}, &wire); err != nil {
		return nil, err
	}

	records := make([]domain.OrderRecord, 0, len(wire))
	for _, w := range wire {
		records = append(records, w.toDomain())
	}
	return records, nil
}

var (
	_ domain.OrderCreator = (*Client)(nil)
	_ domain.OrderHistory = (*Client)(nil)
)
