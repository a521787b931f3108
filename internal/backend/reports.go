package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func rangeQuery(r domain.DateRange, q url.Values) url.Values {
	if q == nil {
		q = url.Values{}
	}
	if !r.Start.IsZero() {
		q.Set("start_date", r.Start.Format(domain.DateLayout))
	}
	if !r.End.IsZero() {
		q.Set("end_date", r.End.Format(domain.DateLayout))
	}
	return q
}

// isJSONObject сообщает, начинается ли значение с '{'.
func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// hourlyList принимает массив {hour, total, orders} или объект "час" -> сумма.
type hourlyList []domain.HourlySales

func (h *hourlyList) UnmarshalJSON(data []byte) error {
	if isJSONObject(data) {
		var byHour domain.SalesByDate
		if err := json.Unmarshal(data, &byHour); err != nil {
			return err
		}
		out := make([]domain.HourlySales, 0, byHour.Len())
		for _, p := range byHour.Points() {
			hour, err := strconv.Atoi(strings.TrimSpace(p.Label))
			if err != nil || hour < 0 || hour > 23 {
				continue
			}
			out = append(out, domain.HourlySales{Hour: hour, Total: p.Total, Orders: p.Orders})
		}
		*h = out
		return nil
	}

	var rows []struct {
		Hour   flexInt         `json:"hour"`
		Total  json.RawMessage `json:"total"`
		Sales  json.RawMessage `json:"sales"`
		Orders flexInt         `json:"orders"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	out := make([]domain.HourlySales, 0, len(rows))
	for _, row := range rows {
		total := row.Total
		if len(total) == 0 {
			total = row.Sales
		}
		out = append(out, domain.HourlySales{Hour: int(row.Hour), Total: lenientAmount(total), Orders: int(row.Orders)})
	}
	*h = out
	return nil
}

// paymentList принимает массив {payment_method|method, total, orders} или объект "способ" -> сумма.
type paymentList []domain.PaymentBreakdown

func (p *paymentList) UnmarshalJSON(data []byte) error {
	if isJSONObject(data) {
		var byMethod domain.SalesByDate
		if err := json.Unmarshal(data, &byMethod); err != nil {
			return err
		}
		out := make([]domain.PaymentBreakdown, 0, byMethod.Len())
		for _, point := range byMethod.Points() {
			out = append(out, domain.PaymentBreakdown{Method: point.Label, Total: point.Total, Orders: point.Orders})
		}
		*p = out
		return nil
	}

	var rows []struct {
		PaymentMethod string          `json:"payment_method"`
		Method        string          `json:"method"`
		Total         json.RawMessage `json:"total"`
		Orders        flexInt         `json:"orders"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	out := make([]domain.PaymentBreakdown, 0, len(rows))
	for _, row := range rows {
		method := row.PaymentMethod
		if method == "" {
			method = row.Method
		}
		out = append(out, domain.PaymentBreakdown{Method: method, Total: lenientAmount(row.Total), Orders: int(row.Orders)})
	}
	*p = out
	return nil
}

// segmentList принимает массив {segment, customers|count} или объект "сегмент" -> число.
type segmentList []domain.CustomerSegment

func (s *segmentList) UnmarshalJSON(data []byte) error {
	if isJSONObject(data) {
		var bySegment domain.SalesByDate
		if err := json.Unmarshal(data, &bySegment); err != nil {
			return err
		}
		out := make([]domain.CustomerSegment, 0, bySegment.Len())
		for _, point := range bySegment.Points() {
			out = append(out, domain.CustomerSegment{Segment: point.Label, Customers: int(point.Total.IntPart())})
		}
		*s = out
		return nil
	}

	var rows []struct {
		Segment   string  `json:"segment"`
		Customers flexInt `json:"customers"`
		Count     flexInt `json:"count"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	out := make([]domain.CustomerSegment, 0, len(rows))
	for _, row := range rows {
		n := row.Customers
		if n == 0 {
			n = row.Count
		}
		out = append(out, domain.CustomerSegment{Segment: row.Segment, Customers: int(n)})
	}
	*s = out
	return nil
}

type wireTopCustomer struct {
	Name       string          `json:"name"`
	TotalSpent json.RawMessage `json:"total_spent"`
	OrderCount flexInt         `json:"order_count"`
	Orders     flexInt         `json:"orders"`
}

type wireTopProduct struct {
	Name     string          `json:"name"`
	Quantity flexInt         `json:"quantity"`
	Revenue  json.RawMessage `json:"revenue"`
	Total    json.RawMessage `json:"total"`
}

type wireSummary struct {
	Currency         string             `json:"currency"`
	TotalSales       json.RawMessage    `json:"total_sales"`
	TotalOrders      flexInt            `json:"total_orders"`
	AverageOrder     json.RawMessage    `json:"average_order"`
	SalesByDate      domain.SalesByDate `json:"sales_by_date"`
	SalesByHour      hourlyList         `json:"sales_by_hour"`
	SalesByPayment   paymentList        `json:"sales_by_payment"`
	TopCustomers     []wireTopCustomer  `json:"top_customers"`
	TopProducts      []wireTopProduct   `json:"top_products"`
	CustomerSegments segmentList        `json:"customer_segments"`
}

// toDomain собирает Summary; отсутствующие разделы становятся пустыми срезами.
func (w wireSummary) toDomain() domain.Summary {
	s := domain.Summary{
		Currency:         strings.ToUpper(strings.TrimSpace(w.Currency)),
		TotalSales:       lenientAmount(w.TotalSales),
		TotalOrders:      int(w.TotalOrders),
		AverageOrder:     lenientAmount(w.AverageOrder),
		SalesByDate:      w.SalesByDate,
		SalesByHour:      append([]domain.HourlySales{}, w.SalesByHour...),
		SalesByPayment:   append([]domain.PaymentBreakdown{}, w.SalesByPayment...),
		TopCustomers:     make([]domain.TopCustomer, 0, len(w.TopCustomers)),
		TopProducts:      make([]domain.TopProduct, 0, len(w.TopProducts)),
		CustomerSegments: append([]domain.CustomerSegment{}, w.CustomerSegments...),
	}
	if s.Currency == "" {
		s.Currency = domain.DefaultCurrency
	}
	for _, c := range w.TopCustomers {
		count := c.OrderCount
		if count == 0 {
			count = c.Orders
		}
		s.TopCustomers = append(s.TopCustomers, domain.TopCustomer{
			Name:       c.Name,
			TotalSpent: lenientAmount(c.TotalSpent),
			OrderCount: int(count),
		})
	}
	for _, p := range w.TopProducts {
		revenue := p.Revenue
		if len(revenue) == 0 {
			revenue = p.Total
		}
		s.TopProducts = append(s.TopProducts, domain.TopProduct{
			Name:     p.Name,
			Quantity: int(p.Quantity),
			Revenue:  lenientAmount(revenue),
		})
	}
	return s
}

// DashboardSummary загружает агрегат дашборда через GET /dashboard/summary.
func (c *Client) DashboardSummary(ctx context.Context, r domain.DateRange) (domain.Summary, error) {
	if err := r.Validate(); err != nil {
		return domain.Summary{}, err
	}

	var wire wireSummary
	if err := c.call(ctx, "dashboard_summary", request{
		method:    http.MethodGet,
		path:      "/dashboard/summary",
		query:     rangeQuery(r, nil),
		retryable: true,
	}, &wire); err != nil {
		return domain.Summary{}, err
	}
	return wire.toDomain(), nil
}

// SalesReport загружает продажи по датам через GET /reports/sales. Ответ — либо
// само отображение дата -> сумма, либо объект с полем sales_by_date.
func (c *Client) SalesReport(ctx context.Context, r domain.DateRange) (domain.SalesByDate, error) {
	if err := r.Validate(); err != nil {
		return domain.SalesByDate{}, err
	}

	var raw json.RawMessage
	if err := c.call(ctx, "sales_report", request{
		method:    http.MethodGet,
		path:      "/reports/sales",
		query:     rangeQuery(r, nil),
		retryable: true,
	}, &raw); err != nil {
		return domain.SalesByDate{}, err
	}

	if isJSONObject(raw) {
		var wrapped struct {
			SalesByDate json.RawMessage `json:"sales_by_date"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.SalesByDate) > 0 {
			raw = wrapped.SalesByDate
		}
	}

	var sales domain.SalesByDate
	if len(raw) == 0 {
		return sales, nil
	}
	if err := json.Unmarshal(raw, &sales); err != nil {
		return domain.SalesByDate{}, err
	}
	return sales, nil
}

var _ domain.ReportSource = (*Client)(nil)
