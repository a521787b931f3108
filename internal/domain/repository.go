package domain

import "context"

// CartStore описывает требования к хранилищу корзин кассовых сессий.
type CartStore interface {
	// Save перезаписывает корзину целиком.
	Save(ctx context.Context, cart Cart) error
	// Delete удаляет корзину; отсутствие записи не считается ошибкой.
	Delete(ctx context.Context, id string) error
	// List возвращает все сохранённые корзины.
	List(ctx context.Context) ([]Cart, error)
}

// PendingOrderStore хранит продажи, ожидающие повторной отправки.
type PendingOrderStore interface {
	// Upsert сохраняет отложенный заказ; повтор с тем же ID обновляет запись, а не создаёт новую.
	Upsert(ctx context.Context, order PendingOrder) error
	// Get возвращает запись или ErrPendingOrderNotFound.
	Get(ctx context.Context, id string) (PendingOrder, error)
	// List возвращает записи от старых к новым.
	List(ctx context.Context) ([]PendingOrder, error)
	// Delete удаляет запись; отсутствие записи не считается ошибкой.
	Delete(ctx context.Context, id string) error
}
