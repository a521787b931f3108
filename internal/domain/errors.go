package domain

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// Ошибка пустой корзины при попытке оформить продажу.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrCartNotFound возвращается, если корзина с таким идентификатором не существует.
	ErrCartNotFound = errors.New("cart not found")
	// Ошибка отсутствующего идентификатора корзины.
	ErrCartIDRequired = errors.New("cart id is required")
	// Ошибка некорректного идентификатора товара (<= 0).
	ErrProductIDInvalid = errors.New("product id must be greater than zero")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка одновременного указания одиночного и раздельного способа оплаты.
	ErrPaymentModeConflict = errors.New("payment_method and split_payments are mutually exclusive")
	// Ошибка отсутствующего способа оплаты.
	ErrPaymentMethodRequired = errors.New("payment method is required")
	// Ошибка раздельной оплаты, в которой меньше двух записей.
	ErrSplitPaymentsTooFew = errors.New("split payment requires at least two entries")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// ErrNotSplitMode возвращается при операциях над split-платежами в режиме одиночной оплаты.
	ErrNotSplitMode = errors.New("order form is not in split payment mode")
	// ErrInvalidPaymentIndex возвращается при обращении к несуществующей записи split-оплаты.
	ErrInvalidPaymentIndex = errors.New("split payment index out of range")
	// Ошибка отсутствующего email при создании клиента.
	ErrCustomerEmailRequired = errors.New("customer email is required")
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrPendingOrderNotFound возвращается, если отложенный заказ не найден.
	ErrPendingOrderNotFound = errors.New("pending order not found")
	// Ошибка отсутствующего idempotency-key отложенного заказа.
	ErrPendingOrderIDRequired = errors.New("pending order id is required")
	// Ошибка некорректного диапазона дат отчёта.
	ErrDateRangeInvalid = errors.New("date range start must not be after end")

	// ErrUnauthorized — backend отклонил запрос без валидной сессии (401).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden — роль пользователя не допускает операцию (403).
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound — ресурс backend не найден (404).
	ErrNotFound = errors.New("not found")
	// ErrBackendUnavailable — временная ошибка сети или 5xx, можно повторить попытку.
	ErrBackendUnavailable = errors.New("backend temporarily unavailable")
	// ErrCircuitOpen — circuit breaker не пропускает вызовы backend.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибка отсутствующего Idempotency-Key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyKeyExists — ключ уже использован тем же запросом.
	ErrIdempotencyKeyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound возвращается, если запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// ValidationError описывает ошибки валидации по полям: имя поля -> сообщение.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// NewValidationError создаёт ошибку валидации.
func NewValidationError(message string, fields map[string]string) *ValidationError {
	if fields == nil {
		fields = map[string]string{}
	}
	return &ValidationError{Message: message, Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Message == "" {
			return "validation failed"
		}
		return e.Message
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	msg := e.Message
	if msg == "" {
		msg = "validation failed"
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

// BackendError хранит ответ backend с кодом HTTP и сообщением из конверта.
type BackendError struct {
	Status  int
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// Unwrap сводит HTTP-статус к одной из sentinel-ошибок таксономии.
func (e *BackendError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return ErrForbidden
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status >= http.StatusInternalServerError, e.Status == http.StatusTooManyRequests, e.Status == 0:
		return ErrBackendUnavailable
	default:
		return nil
	}
}

// IsValidation проверяет, является ли ошибка ошибкой валидации по полям.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsAuthorization проверяет, является ли ошибка ошибкой авторизации (401/403).
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}

// IsNotFound проверяет ошибки отсутствия ресурса.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrPendingOrderNotFound)
}

// IsTransient проверяет, можно ли повторить операцию позже.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrCircuitOpen)
}
