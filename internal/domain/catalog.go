package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Product — товар каталога в том виде, в каком его отдаёт backend.
type Product struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	SKU          string          `json:"sku,omitempty"`
	Price        decimal.Decimal `json:"price"`
	RegularPrice decimal.Decimal `json:"regular_price"`
	SalePrice    decimal.Decimal `json:"sale_price"`
	Currency     string          `json:"currency,omitempty"`
	StockStatus  string          `json:"stock_status,omitempty"`
}

// EffectivePrice возвращает цену продажи: sale price, если она задана,
// иначе regular price, иначе текущую price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice.IsPositive() {
		return p.SalePrice
	}
	if p.RegularPrice.IsPositive() {
		return p.RegularPrice
	}
	return p.Price
}

// Validate проверяет, что товар можно положить в корзину.
func (p Product) Validate() []error {
	var errs []error
	if p.ID <= 0 {
		errs = append(errs, ErrProductIDInvalid)
	}
	if p.EffectivePrice().IsNegative() {
		errs = append(errs, ErrItemPriceInvalid)
	}
	return errs
}

// Customer — покупатель магазина.
type Customer struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// DisplayName возвращает имя для отображения на кассе.
func (c Customer) DisplayName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return c.Email
	}
	return name
}

// CustomerInput — данные для создания клиента прямо с кассы.
type CustomerInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// Validate возвращает ValidationError с ошибками по полям или nil.
func (in CustomerInput) Validate() error {
	fields := map[string]string{}
	email := strings.TrimSpace(in.Email)
	switch {
	case email == "":
		fields["email"] = ErrCustomerEmailRequired.Error()
	case !strings.Contains(email, "@"):
		fields["email"] = "customer email is invalid"
	}
	if strings.TrimSpace(in.FirstName) == "" && strings.TrimSpace(in.LastName) == "" {
		fields["first_name"] = "first or last name is required"
	}
	if len(fields) == 0 {
		return nil
	}
	return NewValidationError("invalid customer", fields)
}
