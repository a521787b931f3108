package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency используется, когда валюта корзины ещё не известна.
const DefaultCurrency = "USD"

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"CNY": "¥",
	"INR": "₹",
	"BDT": "৳",
	"PKR": "₨",
	"RUB": "₽",
	"UAH": "₴",
	"KRW": "₩",
	"TRY": "₺",
	"NGN": "₦",
	"PHP": "₱",
	"VND": "₫",
	"ILS": "₪",
	"AUD": "A$",
	"CAD": "CA$",
	"NZD": "NZ$",
	"BRL": "R$",
}

// CurrencySymbol возвращает символ валюты или пустую строку для неизвестного кода.
func CurrencySymbol(code string) string {
	return currencySymbols[strings.ToUpper(strings.TrimSpace(code))]
}

// FormatMoney форматирует сумму с символом валюты и двумя знаками после запятой: $25.00.
// Для неизвестной валюты используется код: "XYZ 25.00".
func FormatMoney(amount decimal.Decimal, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = DefaultCurrency
	}

	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Abs()
	}

	if symbol := CurrencySymbol(code); symbol != "" {
		return sign + symbol + amount.StringFixed(2)
	}
	return sign + code + " " + amount.StringFixed(2)
}
