package domain

import (
	"context"
	"time"
)

// IdempotencyStatus — состояние запроса с заголовком Idempotency-Key.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing — запрос принят и ещё выполняется.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone — ответ сохранён и отдаётся повторно.
	IdempotencyStatusDone IdempotencyStatus = "done"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone
}

// IdempotencyRecord — сохранённый ответ кассового API на запрос с Idempotency-Key.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Status      IdempotencyStatus
	StatusCode  int
	Body        []byte
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired сообщает, истёк ли срок хранения записи к моменту now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now)
}

// IdempotencyStore хранит ответы на повторяемые запросы кассы.
//
// Reserve создаёт запись в статусе processing. Если ключ уже занят, возвращается
// существующая запись вместе с ErrIdempotencyKeyExists или, при другом теле
// запроса, ErrIdempotencyHashMismatch.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) (IdempotencyRecord, error)
	Complete(ctx context.Context, key string, statusCode int, body []byte) error
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
