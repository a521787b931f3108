package domain

import (
	"context"
	"time"
)

// OrderCreator создаёт заказ на стороне backend.
type OrderCreator interface {
	// CreateOrder отправляет заказ; idempotencyKey одинаков для всех повторов одной продажи.
	CreateOrder(ctx context.Context, idempotencyKey string, req OrderRequest) (OrderConfirmation, error)
}

// CustomerCreator создаёт клиента на стороне backend.
type CustomerCreator interface {
	CreateCustomer(ctx context.Context, in CustomerInput) (Customer, error)
}

// CustomerDirectory отдаёт клиентов магазина.
type CustomerDirectory interface {
	ListCustomers(ctx context.Context, search string) ([]Customer, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
}

// ProductSource отдаёт каталог товаров.
type ProductSource interface {
	ListProducts(ctx context.Context, search string) ([]Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
}

// OrderHistory отдаёт сырые заказы за период для локальной агрегации.
type OrderHistory interface {
	ListOrders(ctx context.Context, r DateRange) ([]OrderRecord, error)
}

// ReportSource отдаёт сырые агрегаты для дашборда.
type ReportSource interface {
	DashboardSummary(ctx context.Context, r DateRange) (Summary, error)
	SalesReport(ctx context.Context, r DateRange) (SalesByDate, error)
}

// Pinger проверяет доступность внешней зависимости.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Notifier доставляет некритичные уведомления кассиру.
type Notifier interface {
	Notify(n Notification)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
	// PendingByType — размер backlog по типу события продажи.
	PendingByType map[string]int
}
