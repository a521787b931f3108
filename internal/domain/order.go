package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPaymentMethod — способ оплаты новой формы заказа.
const DefaultPaymentMethod = "cash"

// SplitPayment — часть оплаты заказа отдельным способом.
type SplitPayment struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderForm — форма заказа корзины. PaymentMethod и SplitPayments взаимоисключающие:
// в режиме split одиночный способ пустой, и наоборот.
type OrderForm struct {
	CustomerID    *int64         `json:"customer_id"`
	Customer      *Customer      `json:"customer,omitempty"`
	PaymentMethod string         `json:"payment_method,omitempty"`
	SplitPayments []SplitPayment `json:"split_payments,omitempty"`
	Note          string         `json:"note,omitempty"`
}

// DefaultOrderForm возвращает форму без клиента с оплатой наличными.
func DefaultOrderForm() OrderForm {
	return OrderForm{PaymentMethod: DefaultPaymentMethod}
}

// IsSplit сообщает, находится ли форма в режиме раздельной оплаты.
func (f *OrderForm) IsSplit() bool {
	return len(f.SplitPayments) > 0
}

// Clone возвращает копию формы без общих срезов и указателей.
func (f OrderForm) Clone() OrderForm {
	out := f
	if f.CustomerID != nil {
		id := *f.CustomerID
		out.CustomerID = &id
	}
	if f.Customer != nil {
		c := *f.Customer
		out.Customer = &c
	}
	if f.SplitPayments != nil {
		out.SplitPayments = append([]SplitPayment(nil), f.SplitPayments...)
	}
	return out
}

// Validate проверяет инварианты формы и возвращает список замечаний.
func (f *OrderForm) Validate() []error {
	var errs []error

	if f.IsSplit() {
		if strings.TrimSpace(f.PaymentMethod) != "" {
			errs = append(errs, ErrPaymentModeConflict)
		}
		if len(f.SplitPayments) < 2 {
			errs = append(errs, ErrSplitPaymentsTooFew)
		}
		for _, p := range f.SplitPayments {
			if strings.TrimSpace(p.Method) == "" {
				errs = append(errs, ErrPaymentMethodRequired)
			}
			if p.Amount.IsNegative() {
				errs = append(errs, ErrPaymentAmountNegative)
			}
		}
		return errs
	}

	if strings.TrimSpace(f.PaymentMethod) == "" {
		errs = append(errs, ErrPaymentMethodRequired)
	}
	return errs
}

// SetCustomer прикрепляет клиента к форме; nil снимает выбор.
func (f *OrderForm) SetCustomer(c *Customer) {
	if c == nil {
		f.CustomerID = nil
		f.Customer = nil
		return
	}
	id := c.ID
	cp := *c
	f.CustomerID = &id
	f.Customer = &cp
}

// SetPaymentMethod переводит форму в режим одиночной оплаты.
func (f *OrderForm) SetPaymentMethod(method string) error {
	method = strings.TrimSpace(method)
	if method == "" {
		return ErrPaymentMethodRequired
	}
	f.PaymentMethod = method
	f.SplitPayments = nil
	return nil
}

// AddPaymentMethod добавляет запись split-оплаты. Из одиночного режима форма
// переходит в split с двумя записями: текущий способ и новая пустая запись.
func (f *OrderForm) AddPaymentMethod() {
	if !f.IsSplit() {
		first := strings.TrimSpace(f.PaymentMethod)
		if first == "" {
			first = DefaultPaymentMethod
		}
		f.SplitPayments = []SplitPayment{
			{Method: first, Amount: decimal.Zero},
			{Method: "", Amount: decimal.Zero},
		}
		f.PaymentMethod = ""
		return
	}
	f.SplitPayments = append(f.SplitPayments, SplitPayment{Amount: decimal.Zero})
}

// UpdateSplitPayment меняет способ и сумму записи split-оплаты по индексу.
func (f *OrderForm) UpdateSplitPayment(index int, method string, amount decimal.Decimal) error {
	if !f.IsSplit() {
		return ErrNotSplitMode
	}
	if index < 0 || index >= len(f.SplitPayments) {
		return ErrInvalidPaymentIndex
	}
	if amount.IsNegative() {
		return ErrPaymentAmountNegative
	}
	f.SplitPayments[index] = SplitPayment{Method: strings.TrimSpace(method), Amount: amount}
	return nil
}

// RemovePaymentMethod удаляет запись split-оплаты. Если записей осталось меньше двух,
// форма возвращается в одиночный режим со способом первой оставшейся записи.
func (f *OrderForm) RemovePaymentMethod(index int) error {
	if !f.IsSplit() {
		return ErrNotSplitMode
	}
	if index < 0 || index >= len(f.SplitPayments) {
		return ErrInvalidPaymentIndex
	}

	previousFirst := f.SplitPayments[0].Method
	remaining := make([]SplitPayment, 0, len(f.SplitPayments)-1)
	remaining = append(remaining, f.SplitPayments[:index]...)
	remaining = append(remaining, f.SplitPayments[index+1:]...)

	if len(remaining) >= 2 {
		f.SplitPayments = remaining
		return nil
	}

	method := ""
	if len(remaining) == 1 {
		method = strings.TrimSpace(remaining[0].Method)
	}
	if method == "" {
		method = strings.TrimSpace(previousFirst)
	}
	if method == "" {
		method = DefaultPaymentMethod
	}
	f.SplitPayments = nil
	f.PaymentMethod = method
	return nil
}

// OrderLineItem — позиция запроса на создание заказа.
type OrderLineItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// OrderRequest — тело POST /orders. Цены не передаются.
type OrderRequest struct {
	CustomerID    *int64          `json:"customer_id"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	SplitPayments []SplitPayment  `json:"split_payments,omitempty"`
	LineItems     []OrderLineItem `json:"line_items"`
	Note          string          `json:"customer_note,omitempty"`
}

// Clone возвращает копию запроса.
func (r OrderRequest) Clone() OrderRequest {
	out := r
	if r.CustomerID != nil {
		id := *r.CustomerID
		out.CustomerID = &id
	}
	out.LineItems = append([]OrderLineItem(nil), r.LineItems...)
	if r.SplitPayments != nil {
		out.SplitPayments = append([]SplitPayment(nil), r.SplitPayments...)
	}
	return out
}

// Equal сравнивает два запроса по содержимому.
func (r OrderRequest) Equal(o OrderRequest) bool {
	if (r.CustomerID == nil) != (o.CustomerID == nil) {
		return false
	}
	if r.CustomerID != nil && *r.CustomerID != *o.CustomerID {
		return false
	}
	if r.PaymentMethod != o.PaymentMethod || r.Note != o.Note {
		return false
	}
	if len(r.LineItems) != len(o.LineItems) || len(r.SplitPayments) != len(o.SplitPayments) {
		return false
	}
	for i := range r.LineItems {
		if r.LineItems[i] != o.LineItems[i] {
			return false
		}
	}
	for i := range r.SplitPayments {
		a, b := r.SplitPayments[i], o.SplitPayments[i]
		if a.Method != b.Method || !a.Amount.Equal(b.Amount) {
			return false
		}
	}
	return true
}

// OrderConfirmation — подтверждение созданного backend заказа.
type OrderConfirmation struct {
	ID       int64           `json:"id"`
	Number   string          `json:"number,omitempty"`
	Status   string          `json:"status,omitempty"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency,omitempty"`
}

// PendingOrder — продажа, которую не удалось подтвердить; хранится до успешной повторной отправки.
type PendingOrder struct {
	// ID совпадает с idempotency-key продажи.
	ID        string       `json:"id"`
	CartID    string       `json:"cart_id"`
	Request   OrderRequest `json:"request"`
	Subtotal  string       `json:"subtotal,omitempty"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func formValidationError(errs []error, split bool) error {
	fields := map[string]string{}
	for _, err := range errs {
		field := "split_payments"
		if err == ErrPaymentModeConflict || !split {
			field = "payment_method"
		}
		if _, ok := fields[field]; !ok {
			fields[field] = err.Error()
		}
	}
	return NewValidationError("invalid order form", fields)
}
