package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const topLimit = 10

// Aggregate считает агрегат дашборда по сырым заказам, когда backend не отдаёт
// готовую сводку. Заказы вне диапазона и без даты пропускаются.
func Aggregate(records []domain.OrderRecord, r domain.DateRange, currency string) domain.Summary {
	s := domain.Summary{
		Currency:         currencyOrDefault(currency),
		TotalSales:       decimal.Zero,
		AverageOrder:     decimal.Zero,
		SalesByHour:      []domain.HourlySales{},
		SalesByPayment:   []domain.PaymentBreakdown{},
		TopCustomers:     []domain.TopCustomer{},
		TopProducts:      []domain.TopProduct{},
		CustomerSegments: []domain.CustomerSegment{},
	}

	byDate := map[string]*domain.SalesPoint{}
	var byHour [24]domain.HourlySales
	byPayment := map[string]*domain.PaymentBreakdown{}
	var paymentOrder []string
	byCustomer := map[string]*domain.TopCustomer{}
	byProduct := map[string]*domain.TopProduct{}

	for _, rec := range records {
		if rec.CreatedAt.IsZero() || !inRange(rec.CreatedAt, r) {
			continue
		}
		s.TotalOrders++
		s.TotalSales = s.TotalSales.Add(rec.Total)

		day := rec.CreatedAt.Format(domain.DateLayout)
		point, ok := byDate[day]
		if !ok {
			point = &domain.SalesPoint{Label: day, Total: decimal.Zero}
			byDate[day] = point
		}
		point.Total = point.Total.Add(rec.Total)
		point.Orders++

		h := rec.CreatedAt.Hour()
		byHour[h].Hour = h
		byHour[h].Total = byHour[h].Total.Add(rec.Total)
		byHour[h].Orders++

		method := strings.TrimSpace(rec.PaymentMethod)
		if method == "" {
			method = "other"
		}
		pay, ok := byPayment[method]
		if !ok {
			pay = &domain.PaymentBreakdown{Method: method, Total: decimal.Zero}
			byPayment[method] = pay
			paymentOrder = append(paymentOrder, method)
		}
		pay.Total = pay.Total.Add(rec.Total)
		pay.Orders++

		name := strings.TrimSpace(rec.CustomerName)
		if name == "" {
			name = "Guest"
		}
		cust, ok := byCustomer[name]
		if !ok {
			cust = &domain.TopCustomer{Name: name, TotalSpent: decimal.Zero}
			byCustomer[name] = cust
		}
		cust.TotalSpent = cust.TotalSpent.Add(rec.Total)
		cust.OrderCount++

		for _, item := range rec.Items {
			prod, ok := byProduct[item.Name]
			if !ok {
				prod = &domain.TopProduct{Name: item.Name, Revenue: decimal.Zero}
				byProduct[item.Name] = prod
			}
			prod.Quantity += item.Quantity
			prod.Revenue = prod.Revenue.Add(item.Total)
		}
	}

	if s.TotalOrders > 0 {
		s.AverageOrder = s.TotalSales.Div(decimal.NewFromInt(int64(s.TotalOrders))).Round(2)
	}

	days := make([]string, 0, len(byDate))
	for day := range byDate {
		days = append(days, day)
	}
	sort.Strings(days)
	points := make([]domain.SalesPoint, 0, len(days))
	for _, day := range days {
		points = append(points, *byDate[day])
	}
	s.SalesByDate = domain.NewSalesByDate(points...)

	for _, h := range byHour {
		if h.Orders > 0 {
			s.SalesByHour = append(s.SalesByHour, h)
		}
	}

	for _, method := range paymentOrder {
		s.SalesByPayment = append(s.SalesByPayment, *byPayment[method])
	}
	sort.SliceStable(s.SalesByPayment, func(i, j int) bool {
		return s.SalesByPayment[i].Total.GreaterThan(s.SalesByPayment[j].Total)
	})

	var newCount, returning int
	for _, c := range byCustomer {
		s.TopCustomers = append(s.TopCustomers, *c)
		if c.Name == "Guest" {
			continue
		}
		if c.OrderCount > 1 {
			returning++
		} else {
			newCount++
		}
	}
	sort.Slice(s.TopCustomers, func(i, j int) bool {
		a, b := s.TopCustomers[i], s.TopCustomers[j]
		if !a.TotalSpent.Equal(b.TotalSpent) {
			return a.TotalSpent.GreaterThan(b.TotalSpent)
		}
		return a.Name < b.Name
	})
	if len(s.TopCustomers) > topLimit {
		s.TopCustomers = s.TopCustomers[:topLimit]
	}

	for _, p := range byProduct {
		s.TopProducts = append(s.TopProducts, *p)
	}
	sort.Slice(s.TopProducts, func(i, j int) bool {
		a, b := s.TopProducts[i], s.TopProducts[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		return a.Name < b.Name
	})
	if len(s.TopProducts) > topLimit {
		s.TopProducts = s.TopProducts[:topLimit]
	}

	if newCount+returning > 0 {
		s.CustomerSegments = append(s.CustomerSegments,
			domain.CustomerSegment{Segment: "new", Customers: newCount},
			domain.CustomerSegment{Segment: "returning", Customers: returning},
		)
	}
	return s
}

// inRange проверяет дату заказа по календарным дням, обе границы включительно.
func inRange(t time.Time, r domain.DateRange) bool {
	day := t.Format(domain.DateLayout)
	if !r.Start.IsZero() && day < r.Start.Format(domain.DateLayout) {
		return false
	}
	if !r.End.IsZero() && day > r.End.Format(domain.DateLayout) {
		return false
	}
	return true
}
