package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository хранит ответы на повторяемые запросы в памяти процесса.
type IdempotencyRepository struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyStore.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		records: make(map[string]domain.IdempotencyRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reserve занимает ключ. Истёкшая запись считается свободной.
func (r *IdempotencyRepository) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	now := r.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultIdempotencyTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[key]; ok && !existing.Expired(now) {
		if existing.RequestHash != requestHash {
			return cloneRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return cloneRecord(existing), domain.ErrIdempotencyKeyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.records[key] = record
	return cloneRecord(record), nil
}

// Complete сохраняет ответ и переводит запись в done.
func (r *IdempotencyRepository) Complete(_ context.Context, key string, statusCode int, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[strings.TrimSpace(key)]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = domain.IdempotencyStatusDone
	record.StatusCode = statusCode
	record.Body = append([]byte(nil), body...)
	record.UpdatedAt = r.now()
	r.records[record.Key] = record
	return nil
}

// Release освобождает ключ, чтобы клиент мог повторить запрос.
func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, strings.TrimSpace(key))
	return nil
}

// DeleteExpired удаляет не более limit записей с истёкшим сроком (limit <= 0 — все).
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, record := range r.records {
		if !record.Expired(before) {
			continue
		}
		delete(r.records, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

func cloneRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.Body = append([]byte(nil), src.Body...)
	return dst
}

var _ domain.IdempotencyStore = (*IdempotencyRepository)(nil)
