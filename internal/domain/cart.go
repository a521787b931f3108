package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine — позиция корзины. Цена фиксируется в момент добавления и не
// меняется при последующем изменении цены в каталоге.
type CartLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency"`
	Quantity  int             `json:"quantity"`
	AddedAt   time.Time       `json:"added_at"`
}

// Total возвращает стоимость позиции: цена * количество.
func (l CartLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// NewCartLine создаёт позицию с количеством 1 по снимку товара.
func NewCartLine(p Product, currency string, now time.Time) CartLine {
	if p.Currency != "" {
		currency = p.Currency
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return CartLine{
		ProductID: p.ID,
		Name:      p.Name,
		SKU:       p.SKU,
		UnitPrice: p.EffectivePrice(),
		Currency:  currency,
		Quantity:  1,
		AddedAt:   now,
	}
}

// Cart — корзина одной кассовой сессии вместе с формой заказа.
type Cart struct {
	ID string `json:"id"`
	// Lines хранит позиции в порядке добавления.
	Lines []CartLine `json:"lines"`
	Form  OrderForm  `json:"form"`
	// SubmissionKey — idempotency-key собираемой продажи; меняется после очистки корзины.
	SubmissionKey string    `json:"submission_key"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewCart создаёт пустую корзину с формой по умолчанию.
func NewCart(id, submissionKey string, now time.Time) Cart {
	return Cart{
		ID:            id,
		Lines:         []CartLine{},
		Form:          DefaultOrderForm(),
		SubmissionKey: submissionKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// LineIndex возвращает индекс позиции товара или -1.
func (c *Cart) LineIndex(productID int64) int {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// IsEmpty сообщает, есть ли в корзине позиции.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// ItemsCount возвращает общее количество единиц товара в корзине.
func (c *Cart) ItemsCount() int {
	var n int
	for _, line := range c.Lines {
		n += line.Quantity
	}
	return n
}

// Subtotal считает сумму по зафиксированным ценам позиций.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.Total())
	}
	return total
}

// CurrencyCode возвращает валюту первой позиции; корзина считается одновалютной.
func (c *Cart) CurrencyCode() string {
	if len(c.Lines) == 0 || c.Lines[0].Currency == "" {
		return DefaultCurrency
	}
	return c.Lines[0].Currency
}

// FormattedSubtotal возвращает сумму корзины в её валюте, например $25.00.
func (c *Cart) FormattedSubtotal() string {
	return FormatMoney(c.Subtotal(), c.CurrencyCode())
}

// Clone возвращает глубокую копию корзины.
func (c Cart) Clone() Cart {
	out := c
	out.Lines = append([]CartLine(nil), c.Lines...)
	if out.Lines == nil {
		out.Lines = []CartLine{}
	}
	out.Form = c.Form.Clone()
	return out
}

// OrderRequest строит тело запроса на создание заказа: только id товара и количество,
// цены пересчитывает сервер.
func (c *Cart) OrderRequest() (OrderRequest, error) {
	if c.IsEmpty() {
		return OrderRequest{}, ErrCartEmpty
	}
	if errs := c.Form.Validate(); len(errs) > 0 {
		return OrderRequest{}, formValidationError(errs, c.Form.IsSplit())
	}

	items := make([]OrderLineItem, 0, len(c.Lines))
	for _, line := range c.Lines {
		if line.Quantity <= 0 {
			return OrderRequest{}, ErrItemQtyInvalid
		}
		items = append(items, OrderLineItem{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	req := OrderRequest{
		CustomerID: c.Form.CustomerID,
		Note:       c.Form.Note,
		LineItems:  items,
	}
	if c.Form.IsSplit() {
		req.SplitPayments = append([]SplitPayment(nil), c.Form.SplitPayments...)
	} else {
		req.PaymentMethod = c.Form.PaymentMethod
	}
	return req, nil
}
