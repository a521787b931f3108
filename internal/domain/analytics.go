package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout — формат дат в отчётах backend.
const DateLayout = "2006-01-02"

// DateRange — диапазон дат отчёта, обе границы включительно.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Validate проверяет корректность диапазона.
func (r DateRange) Validate() error {
	if !r.Start.IsZero() && !r.End.IsZero() && r.Start.After(r.End) {
		return ErrDateRangeInvalid
	}
	return nil
}

// Key возвращает строковый ключ диапазона для кэшей и логов.
func (r DateRange) Key() string {
	return formatDate(r.Start) + ".." + formatDate(r.End)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// SalesPoint — продажи за одну дату.
type SalesPoint struct {
	Label  string
	Total  decimal.Decimal
	Orders int
}

// SalesByDate — отображение дата -> сумма продаж. Порядок ключей сохраняется таким,
// каким его прислал backend.
type SalesByDate struct {
	points []SalesPoint
}

// NewSalesByDate создаёт отображение из упорядоченного списка точек.
func NewSalesByDate(points ...SalesPoint) SalesByDate {
	return SalesByDate{points: append([]SalesPoint(nil), points...)}
}

// Points возвращает копию точек в исходном порядке.
func (s SalesByDate) Points() []SalesPoint {
	return append([]SalesPoint{}, s.points...)
}

// Len возвращает количество дат.
func (s SalesByDate) Len() int {
	return len(s.points)
}

// UnmarshalJSON читает объект токенами, чтобы не потерять порядок ключей.
// Значение может быть числом, строкой или объектом {"sales"|"total", "orders"}.
// Массив строк {"date"|"label", "total"|"sales", "orders"} читается в порядке элементов.
func (s *SalesByDate) UnmarshalJSON(data []byte) error {
	s.points = nil

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		return s.unmarshalRows(trimmed)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("sales_by_date: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("sales_by_date: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("sales_by_date: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("sales_by_date: unexpected key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("sales_by_date[%s]: %w", key, err)
		}
		point, err := parseSalesPoint(key, raw)
		if err != nil {
			return fmt.Errorf("sales_by_date[%s]: %w", key, err)
		}
		s.points = append(s.points, point)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("sales_by_date: %w", err)
	}
	return nil
}

// unmarshalRows читает массивную форму; пустой PHP-массив приходит как [].
func (s *SalesByDate) unmarshalRows(data []byte) error {
	var rows []struct {
		Date   string          `json:"date"`
		Label  string          `json:"label"`
		Total  json.RawMessage `json:"total"`
		Sales  json.RawMessage `json:"sales"`
		Orders json.Number     `json:"orders"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("sales_by_date: %w", err)
	}
	for i, row := range rows {
		label := row.Date
		if label == "" {
			label = row.Label
		}
		amountRaw := row.Total
		if len(amountRaw) == 0 {
			amountRaw = row.Sales
		}
		total, err := ParseAmount(amountRaw)
		if err != nil {
			return fmt.Errorf("sales_by_date[%d]: %w", i, err)
		}
		orders, _ := strconv.Atoi(row.Orders.String())
		s.points = append(s.points, SalesPoint{Label: label, Total: total, Orders: orders})
	}
	return nil
}

// MarshalJSON пишет объект с ключами в исходном порядке. Точка с заказами
// пишется объектом {"total", "orders"}, иначе только суммой.
func (s SalesByDate) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range s.points {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if p.Orders == 0 {
			buf.WriteString(p.Total.String())
			continue
		}
		buf.WriteString(`{"total":`)
		buf.WriteString(p.Total.String())
		buf.WriteString(`,"orders":`)
		buf.WriteString(strconv.Itoa(p.Orders))
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func parseSalesPoint(label string, raw json.RawMessage) (SalesPoint, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var obj struct {
			Sales  json.RawMessage `json:"sales"`
			Total  json.RawMessage `json:"total"`
			Orders json.Number     `json:"orders"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return SalesPoint{}, err
		}
		amountRaw := obj.Sales
		if len(amountRaw) == 0 {
			amountRaw = obj.Total
		}
		total, err := ParseAmount(amountRaw)
		if err != nil {
			return SalesPoint{}, err
		}
		orders, _ := strconv.Atoi(obj.Orders.String())
		return SalesPoint{Label: label, Total: total, Orders: orders}, nil
	}

	total, err := ParseAmount(raw)
	if err != nil {
		return SalesPoint{}, err
	}
	return SalesPoint{Label: label, Total: total}, nil
}

// ParseAmount разбирает денежное значение из JSON: число, строку, пустую строку или null.
func ParseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal([]byte(s), &str); err != nil {
			return decimal.Zero, err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return decimal.Zero, nil
		}
	}
	return decimal.NewFromString(s)
}

// HourlySales — продажи в разрезе часа суток (0..23).
type HourlySales struct {
	Hour   int             `json:"hour"`
	Total  decimal.Decimal `json:"total"`
	Orders int             `json:"orders"`
}

// PaymentBreakdown — продажи в разрезе способа оплаты.
type PaymentBreakdown struct {
	Method string          `json:"payment_method"`
	Total  decimal.Decimal `json:"total"`
	Orders int             `json:"orders"`
}

// TopCustomer — клиент из рейтинга по сумме покупок.
type TopCustomer struct {
	Name       string          `json:"name"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	OrderCount int             `json:"order_count"`
}

// TopProduct — товар из рейтинга продаж.
type TopProduct struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// CustomerSegment — количество клиентов в сегменте (new, returning, ...).
type CustomerSegment struct {
	Segment   string `json:"segment"`
	Customers int    `json:"customers"`
}

// Summary — агрегат дашборда за диапазон дат. Неизменяем: каждый запрос заменяет его целиком.
type Summary struct {
	Currency         string             `json:"currency"`
	TotalSales       decimal.Decimal    `json:"total_sales"`
	TotalOrders      int                `json:"total_orders"`
	AverageOrder     decimal.Decimal    `json:"average_order"`
	SalesByDate      SalesByDate        `json:"sales_by_date"`
	SalesByHour      []HourlySales      `json:"sales_by_hour"`
	SalesByPayment   []PaymentBreakdown `json:"sales_by_payment"`
	TopCustomers     []TopCustomer      `json:"top_customers"`
	TopProducts      []TopProduct       `json:"top_products"`
	CustomerSegments []CustomerSegment  `json:"customer_segments"`
}

// OrderRecord — сырой заказ для локальной агрегации.
type OrderRecord struct {
	ID            int64             `json:"id"`
	CreatedAt     time.Time         `json:"created_at"`
	Total         decimal.Decimal   `json:"total"`
	PaymentMethod string            `json:"payment_method"`
	CustomerName  string            `json:"customer_name"`
	Items         []OrderRecordItem `json:"items"`
}

// OrderRecordItem — позиция сырого заказа.
type OrderRecordItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}
