package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type pendingOrderRepository struct {
	db *sql.DB
}

// NewPendingOrderRepository создаёт PostgreSQL-реализацию PendingOrderStore.
func NewPendingOrderRepository(store *Store) domain.PendingOrderStore {
	return &pendingOrderRepository{db: store.DB()}
}

// Upsert вставляет запись или обновляет её по idempotency-key; created_at не меняется.
func (r *pendingOrderRepository) Upsert(ctx context.Context, order domain.PendingOrder) error {
	if order.ID == "" {
		return domain.ErrPendingOrderIDRequired
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	request, err := json.Marshal(order.Request)
	if err != nil {
		return fmt.Errorf("marshal pending order request: %w", err)
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pending_orders (
			id, cart_id, request, subtotal, attempts, last_error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			cart_id = EXCLUDED.cart_id,
			request = EXCLUDED.request,
			subtotal = EXCLUDED.subtotal,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`,
		order.ID, order.CartID, request, order.Subtotal, order.Attempts, order.LastError,
		order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert pending order: %w", err)
	}
	return nil
}

func (r *pendingOrderRepository) Get(ctx context.Context, id string) (domain.PendingOrder, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, cart_id, request, subtotal, attempts, last_error, created_at, updated_at
		FROM pending_orders
		WHERE id = $1
	`, id)

	order, err := scanPendingOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingOrder{}, domain.ErrPendingOrderNotFound
	}
	if err != nil {
		return domain.PendingOrder{}, err
	}
	return order, nil
}

// List возвращает записи от старых к новым.
func (r *pendingOrderRepository) List(ctx context.Context) ([]domain.PendingOrder, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, cart_id, request, subtotal, attempts, last_error, created_at, updated_at
		FROM pending_orders
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending orders: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PendingOrder, 0)
	for rows.Next() {
		order, err := scanPendingOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending orders: %w", err)
	}
	return result, nil
}

func (r *pendingOrderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_orders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete pending order: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingOrder(row rowScanner) (domain.PendingOrder, error) {
	var (
		order   domain.PendingOrder
		request []byte
	)
	if err := row.Scan(
		&order.ID,
		&order.CartID,
		&request,
		&order.Subtotal,
		&order.Attempts,
		&order.LastError,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PendingOrder{}, err
		}
		return domain.PendingOrder{}, fmt.Errorf("scan pending order: %w", err)
	}
	if err := json.Unmarshal(request, &order.Request); err != nil {
		return domain.PendingOrder{}, fmt.Errorf("decode pending order %s request: %w", order.ID, err)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.PendingOrderStore = (*pendingOrderRepository)(nil)
