package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// cartRepositoryInMemory — простая in-memory реализация CartStore.
type cartRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Cart
}

// NewCartRepository возвращает in-memory хранилище корзин для локальной разработки и тестов.
func NewCartRepository() domain.CartStore {
	return &cartRepositoryInMemory{
		items: make(map[string]domain.Cart),
	}
}

// Save перезаписывает корзину.
func (r *cartRepositoryInMemory) Save(_ context.Context, cart domain.Cart) error {
	if cart.ID == "" {
		return domain.ErrCartIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[cart.ID] = cart.Clone()
	return nil
}

// Delete удаляет корзину, если она есть.
func (r *cartRepositoryInMemory) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, id)
	return nil
}

// List возвращает корзины в порядке создания.
func (r *cartRepositoryInMemory) List(_ context.Context) ([]domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Cart, 0, len(r.items))
	for _, cart := range r.items {
		result = append(result, cart.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

var _ domain.CartStore = (*cartRepositoryInMemory)(nil)
