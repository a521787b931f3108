// Package analytics превращает агрегаты backend в серии для графиков дашборда.
// Функции этого файла чистые: без состояния и побочных эффектов.
package analytics

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Kind — тип значений серии.
type Kind string

const (
	KindMoney Kind = "money"
	KindCount Kind = "count"
)

// Style — фиксированные параметры отрисовки серии.
type Style struct {
	Type  string `json:"type"`
	Color string `json:"color"`
	Axis  string `json:"axis,omitempty"`
}

var (
	styleSpend   = Style{Type: "bar", Color: "#4f46e5", Axis: "left"}
	styleOrders  = Style{Type: "line", Color: "#10b981", Axis: "right"}
	styleSales   = Style{Type: "area", Color: "#2563eb", Axis: "left"}
	styleHourly  = Style{Type: "bar", Color: "#f59e0b", Axis: "left"}
	stylePayment = Style{Type: "pie", Color: "#8b5cf6"}
	styleQty     = Style{Type: "bar", Color: "#06b6d4", Axis: "left"}
	styleRevenue = Style{Type: "line", Color: "#ef4444", Axis: "right"}
	styleSegment = Style{Type: "doughnut", Color: "#14b8a6"}
)

// ChartSeries — одна серия графика. Data выровнена по Labels графика.
type ChartSeries struct {
	Name     string    `json:"name"`
	Kind     Kind      `json:"kind"`
	Currency string    `json:"currency,omitempty"`
	Style    Style     `json:"style"`
	Data     []float64 `json:"data"`
}

// TickLabel форматирует значение оси: денежные серии получают символ валюты,
// счётчики выводятся как есть.
func (s ChartSeries) TickLabel(v float64) string {
	if s.Kind == KindMoney {
		return domain.FormatMoney(decimal.NewFromFloat(v), s.Currency)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Chart — подписи оси X и выровненные по ним серии.
type Chart struct {
	Labels []string      `json:"labels"`
	Series []ChartSeries `json:"series"`
}

func newSeries(name string, kind Kind, currency string, style Style, n int) ChartSeries {
	s := ChartSeries{Name: name, Kind: kind, Style: style, Data: make([]float64, 0, n)}
	if kind == KindMoney {
		s.Currency = currencyOrDefault(currency)
	}
	return s
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return domain.DefaultCurrency
	}
	return currency
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// SummarizeCustomers строит две параллельные серии (сумма покупок и число заказов),
// выровненные по имени клиента. Пустой рейтинг даёт две пустые серии.
func SummarizeCustomers(s domain.Summary) Chart {
	spend := newSeries("Total spent", KindMoney, s.Currency, styleSpend, len(s.TopCustomers))
	orders := newSeries("Orders", KindCount, "", styleOrders, len(s.TopCustomers))
	labels := make([]string, 0, len(s.TopCustomers))

	for _, c := range s.TopCustomers {
		name := c.Name
		if name == "" {
			name = "Guest"
		}
		labels = append(labels, name)
		spend.Data = append(spend.Data, money(c.TotalSpent))
		orders.Data = append(orders.Data, float64(c.OrderCount))
	}
	return Chart{Labels: labels, Series: []ChartSeries{spend, orders}}
}

// SummarizeSales строит серию продаж по датам. Порядок подписей совпадает
// с порядком ключей, в котором их прислал backend.
func SummarizeSales(s domain.Summary) Chart {
	return salesChart(s.SalesByDate, s.Currency)
}

func salesChart(sales domain.SalesByDate, currency string) Chart {
	points := sales.Points()
	series := newSeries("Sales", KindMoney, currency, styleSales, len(points))
	labels := make([]string, 0, len(points))
	for _, p := range points {
		labels = append(labels, p.Label)
		series.Data = append(series.Data, money(p.Total))
	}
	return Chart{Labels: labels, Series: []ChartSeries{series}}
}

// SummarizeHourly раскладывает продажи по 24 часам суток; часы без продаж равны нулю.
func SummarizeHourly(s domain.Summary) Chart {
	totals := make([]decimal.Decimal, 24)
	counts := make([]int, 24)
	for _, h := range s.SalesByHour {
		if h.Hour < 0 || h.Hour > 23 {
			continue
		}
		totals[h.Hour] = totals[h.Hour].Add(h.Total)
		counts[h.Hour] += h.Orders
	}

	sales := newSeries("Sales", KindMoney, s.Currency, styleHourly, 24)
	orders := newSeries("Orders", KindCount, "", styleOrders, 24)
	labels := make([]string, 0, 24)
	for hour := 0; hour < 24; hour++ {
		labels = append(labels, fmt.Sprintf("%02d:00", hour))
		sales.Data = append(sales.Data, money(totals[hour]))
		orders.Data = append(orders.Data, float64(counts[hour]))
	}
	return Chart{Labels: labels, Series: []ChartSeries{sales, orders}}
}

// SummarizePayments строит долю продаж по способам оплаты.
func SummarizePayments(s domain.Summary) Chart {
	series := newSeries("Sales", KindMoney, s.Currency, stylePayment, len(s.SalesByPayment))
	labels := make([]string, 0, len(s.SalesByPayment))
	for _, p := range s.SalesByPayment {
		method := p.Method
		if method == "" {
			method = "other"
		}
		labels = append(labels, method)
		series.Data = append(series.Data, money(p.Total))
	}
	return Chart{Labels: labels, Series: []ChartSeries{series}}
}

// SummarizeProducts строит проданное количество и выручку по товарам.
func SummarizeProducts(s domain.Summary) Chart {
	qty := newSeries("Quantity", KindCount, "", styleQty, len(s.TopProducts))
	revenue := newSeries("Revenue", KindMoney, s.Currency, styleRevenue, len(s.TopProducts))
	labels := make([]string, 0, len(s.TopProducts))
	for _, p := range s.TopProducts {
		labels = append(labels, p.Name)
		qty.Data = append(qty.Data, float64(p.Quantity))
		revenue.Data = append(revenue.Data, money(p.Revenue))
	}
	return Chart{Labels: labels, Series: []ChartSeries{qty, revenue}}
}

// SummarizeSegments строит число клиентов по сегментам.
func SummarizeSegments(s domain.Summary) Chart {
	series := newSeries("Customers", KindCount, "", styleSegment, len(s.CustomerSegments))
	labels := make([]string, 0, len(s.CustomerSegments))
	for _, seg := range s.CustomerSegments {
		labels = append(labels, seg.Segment)
		series.Data = append(series.Data, float64(seg.Customers))
	}
	return Chart{Labels: labels, Series: []ChartSeries{series}}
}

// Totals — карточки итогов дашборда.
type Totals struct {
	Sales        string `json:"sales"`
	Orders       int    `json:"orders"`
	AverageOrder string `json:"average_order"`
}

// Dashboard — все графики дашборда за один диапазон дат.
type Dashboard struct {
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Currency  string `json:"currency"`
	Totals    Totals `json:"totals"`
	Sales     Chart  `json:"sales"`
	Hourly    Chart  `json:"hourly"`
	Payments  Chart  `json:"payments"`
	Customers Chart  `json:"customers"`
	Products  Chart  `json:"products"`
	Segments  Chart  `json:"segments"`
}

// BuildDashboard собирает все графики из одного агрегата. Средний чек
// пересчитывается, если backend его не прислал.
func BuildDashboard(s domain.Summary, r domain.DateRange) Dashboard {
	s.Currency = currencyOrDefault(s.Currency)

	average := s.AverageOrder
	if average.IsZero() && s.TotalOrders > 0 {
		average = s.TotalSales.Div(decimal.NewFromInt(int64(s.TotalOrders)))
	}

	d := Dashboard{
		Currency: s.Currency,
		Totals: Totals{
			Sales:        domain.FormatMoney(s.TotalSales, s.Currency),
			Orders:       s.TotalOrders,
			AverageOrder: domain.FormatMoney(average, s.Currency),
		},
		Sales:     SummarizeSales(s),
		Hourly:    SummarizeHourly(s),
		Payments:  SummarizePayments(s),
		Customers: SummarizeCustomers(s),
		Products:  SummarizeProducts(s),
		Segments:  SummarizeSegments(s),
	}
	if !r.Start.IsZero() {
		d.Start = r.Start.Format(domain.DateLayout)
	}
	if !r.End.IsZero() {
		d.End = r.End.Format(domain.DateLayout)
	}
	return d
}
