package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type pendingOrderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.PendingOrder
}

// NewPendingOrderRepository создаёт in-memory хранилище отложенных заказов.
func NewPendingOrderRepository() domain.PendingOrderStore {
	return &pendingOrderRepositoryInMemory{
		items: make(map[string]domain.PendingOrder),
	}
}

// Upsert создаёт или обновляет запись; CreatedAt исходной записи сохраняется.
func (r *pendingOrderRepositoryInMemory) Upsert(_ context.Context, order domain.PendingOrder) error {
	if order.ID == "" {
		return domain.ErrPendingOrderIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if current, ok := r.items[order.ID]; ok {
		order.CreatedAt = current.CreatedAt
	} else if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}
	order.Request = order.Request.Clone()
	r.items[order.ID] = order
	return nil
}

func (r *pendingOrderRepositoryInMemory) Get(_ context.Context, id string) (domain.PendingOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.PendingOrder{}, domain.ErrPendingOrderNotFound
	}
	order.Request = order.Request.Clone()
	return order, nil
}

// List возвращает записи от старых к новым.
func (r *pendingOrderRepositoryInMemory) List(_ context.Context) ([]domain.PendingOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PendingOrder, 0, len(r.items))
	for _, order := range r.items {
		order.Request = order.Request.Clone()
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *pendingOrderRepositoryInMemory) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, id)
	return nil
}

var _ domain.PendingOrderStore = (*pendingOrderRepositoryInMemory)(nil)
