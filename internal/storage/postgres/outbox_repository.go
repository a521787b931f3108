package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"

	defaultOutboxBatch = 100
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload`

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию outbox событий продаж.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

// Enqueue сохраняет событие продажи со статусом pending. ID события продажи
// детерминирован, поэтому повторная вставка не создаёт дубль и возвращает
// уже сохранённую версию.
func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.AggregateType == "" {
		msg.AggregateType = domain.SaleAggregateType
	}
	if len(msg.Payload) == 0 {
		msg.Payload = []byte("{}")
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (`+outboxColumns+`, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxStatusPending, time.Now().UTC())
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for sale %s: %w", msg.EventType, msg.AggregateID, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("rows affected for outbox enqueue: %w", err)
	}
	if inserted == 0 {
		return r.get(ctx, msg.ID)
	}
	return msg, nil
}

func (r *outboxRepository) get(ctx context.Context, id string) (domain.OutboxMessage, error) {
	msg, err := scanOutbox(r.db.QueryRowContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox_messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OutboxMessage{}, fmt.Errorf("outbox message %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("load outbox message %s: %w", id, err)
	}
	return msg, nil
}

// PullPending отдаёт события в порядке записи, чтобы события одной продажи
// публиковались по порядку.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, outboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending sale events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		msg, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale event: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale events: %w", err)
	}
	return result, nil
}

// Stats считает backlog по типам событий одним запросом.
func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = $1
		GROUP BY event_type
	`, outboxStatusPending)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}
	defer rows.Close()

	stats := domain.OutboxStats{PendingByType: map[string]int{}}
	for rows.Next() {
		var (
			eventType string
			count     int
			oldest    time.Time
		)
		if err := rows.Scan(&eventType, &count, &oldest); err != nil {
			return domain.OutboxStats{}, fmt.Errorf("scan outbox stats: %w", err)
		}
		stats.PendingByType[eventType] = count
		stats.PendingCount += count
		oldest = oldest.UTC()
		if stats.OldestPendingAt.IsZero() || oldest.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = oldest
		}
	}
	if err := rows.Err(); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("iterate outbox stats: %w", err)
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.markStatus(id, outboxStatusSent)
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.markStatus(id, outboxStatusFailed)
}

func (r *outboxRepository) markStatus(id, status string) error {
	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark sale event %s as %s: %w", id, status, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for sale event %s: %w", id, err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}

func scanOutbox(row rowScanner) (domain.OutboxMessage, error) {
	var msg domain.OutboxMessage
	err := row.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload)
	return msg, err
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
