// Package sales управляет корзинами кассовых сессий и отправкой продаж в backend.
package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
)

const (
	// DefaultCartID — корзина, активная при старте сессии.
	DefaultCartID = "main"

	defaultSubmitTimeout = 30 * time.Second
)

// ErrOrderQueued возвращается вместе с причиной, когда backend не подтвердил
// продажу и она сохранена как отложенный заказ.
var ErrOrderQueued = errors.New("order saved as pending")

// errUnchanged — операция не изменила корзину, сохранять нечего.
var errUnchanged = errors.New("cart unchanged")

// Dependencies — внешние коллабораторы менеджера.
type Dependencies struct {
	Orders    domain.OrderCreator
	Customers domain.CustomerCreator
	Pending   domain.PendingOrderStore
	// Carts необязателен: без него корзины живут только в памяти процесса.
	Carts    domain.CartStore
	Outbox   domain.OutboxRepository
	Notifier domain.Notifier
}

// Option настраивает Manager.
type Option func(*Manager)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics подключает метрики продаж.
func WithMetrics(sm *metrics.SalesMetrics) Option {
	return func(m *Manager) {
		m.metrics = sm
	}
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithKeyGenerator подменяет генератор idempotency-key продаж.
func WithKeyGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newKey = gen
		}
	}
}

// WithSubmitTimeout ограничивает время одного вызова CreateOrder.
func WithSubmitTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.submitTimeout = d
		}
	}
}

// Manager — единственный владелец корзин и форм заказа. Все операции читают и
// пишут состояние под mu; вызовы backend выполняются без блокировки.
type Manager struct {
	orders    domain.OrderCreator
	customers domain.CustomerCreator
	pending   domain.PendingOrderStore
	store     domain.CartStore
	outbox    domain.OutboxRepository
	notifier  domain.Notifier

	logger        *log.Entry
	metrics       *metrics.SalesMetrics
	now           func() time.Time
	newKey        func() string
	submitTimeout time.Duration

	mu       sync.Mutex
	carts    map[string]domain.Cart
	activeID string

	// syncMu не даёт двум синхронизациям отправлять одни и те же заказы параллельно.
	syncMu sync.Mutex
}

// NewManager создаёт менеджер сессии.
func NewManager(deps Dependencies, opts ...Option) (*Manager, error) {
	if deps.Orders == nil {
		return nil, errors.New("sales: order creator is required")
	}
	if deps.Pending == nil {
		return nil, errors.New("sales: pending order store is required")
	}

	m := &Manager{
		orders:        deps.Orders,
		customers:     deps.Customers,
		pending:       deps.Pending,
		store:         deps.Carts,
		outbox:        deps.Outbox,
		notifier:      deps.Notifier,
		logger:        log.WithField("component", "sales"),
		now:           func() time.Time { return time.Now().UTC() },
		newKey:        uuid.NewString,
		submitTimeout: defaultSubmitTimeout,
		carts:         make(map[string]domain.Cart),
		activeID:      DefaultCartID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Restore загружает сохранённые корзины. Вызывается один раз при старте.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	carts, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore carts: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cart := range carts {
		if cart.SubmissionKey == "" {
			cart.SubmissionKey = m.newKey()
		}
		if cart.Lines == nil {
			cart.Lines = []domain.CartLine{}
		}
		m.carts[cart.ID] = cart
	}
	m.metrics.SetCarts(len(m.carts))

	if pending, err := m.pending.List(ctx); err == nil {
		m.metrics.SetPendingOrders(len(pending))
	}

	m.logger.WithField("carts", len(carts)).Info("carts restored")
	return len(carts), nil
}

// ActiveCartID возвращает идентификатор активной корзины.
func (m *Manager) ActiveCartID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// CartIDs возвращает идентификаторы существующих корзин по алфавиту.
func (m *Manager) CartIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.carts))
	for id := range m.carts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetActiveCart переключает активную корзину. Неактивные корзины не меняются,
// новая корзина будет создана при первом добавлении товара.
func (m *Manager) SetActiveCart(_ context.Context, cartID string) error {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return m.fail("set_active_cart", domain.ErrCartIDRequired)
	}

	m.mu.Lock()
	m.activeID = cartID
	m.mu.Unlock()
	return nil
}

// ActiveCart возвращает копию активной корзины; несуществующая корзина
// отдаётся пустой.
func (m *Manager) ActiveCart() domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked(m.activeID)
}

// Snapshot возвращает копию корзины по идентификатору.
func (m *Manager) Snapshot(cartID string) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[cartID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cart.Clone(), nil
}

// ItemsCount возвращает количество единиц товара в активной корзине.
func (m *Manager) ItemsCount() int {
	cart := m.ActiveCart()
	return cart.ItemsCount()
}

// Subtotal возвращает сумму активной корзины по зафиксированным ценам.
func (m *Manager) Subtotal() decimal.Decimal {
	cart := m.ActiveCart()
	return cart.Subtotal()
}

// FormattedSubtotal возвращает сумму активной корзины в её валюте.
func (m *Manager) FormattedSubtotal() string {
	cart := m.ActiveCart()
	return cart.FormattedSubtotal()
}

// AddItem увеличивает количество товара на 1 или добавляет позицию с ценой,
// действующей в момент добавления.
func (m *Manager) AddItem(ctx context.Context, product domain.Product) (domain.Cart, error) {
	if errs := product.Validate(); len(errs) > 0 {
		return m.ActiveCart(), m.fail("add_item", errs[0])
	}

	return m.mutateActive(ctx, "add_item", func(cart *domain.Cart) error {
		if i := cart.LineIndex(product.ID); i >= 0 {
			cart.Lines[i].Quantity++
			return nil
		}
		cart.Lines = append(cart.Lines, domain.NewCartLine(product, cart.CurrencyCode(), m.now()))
		return nil
	})
}

// DecreaseItem уменьшает количество на 1 и удаляет позицию на нуле.
// Отсутствующий товар — no-op.
func (m *Manager) DecreaseItem(ctx context.Context, productID int64) (domain.Cart, error) {
	return m.mutateActive(ctx, "decrease_item", func(cart *domain.Cart) error {
		i := cart.LineIndex(productID)
		if i < 0 {
			return errUnchanged
		}
		cart.Lines[i].Quantity--
		if cart.Lines[i].Quantity <= 0 {
			cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
		}
		return nil
	})
}

// RemoveItem удаляет позицию товара, если она есть.
func (m *Manager) RemoveItem(ctx context.Context, productID int64) (domain.Cart, error) {
	return m.mutateActive(ctx, "remove_item", func(cart *domain.Cart) error {
		i := cart.LineIndex(productID)
		if i < 0 {
			return errUnchanged
		}
		cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
		return nil
	})
}

// ClearCart очищает корзину, сбрасывает форму заказа и выдаёт новый ключ продажи.
func (m *Manager) ClearCart(ctx context.Context, cartID string) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[cartID]
	if !ok {
		return domain.Cart{}, m.fail("clear_cart", domain.ErrCartNotFound)
	}
	cleared, err := m.commitLocked(ctx, cart, func(c *domain.Cart) error {
		m.resetLocked(c)
		return nil
	})
	if err != nil {
		return cart.Clone(), m.fail("clear_cart", err)
	}
	return cleared, nil
}

// SetActiveCustomer прикрепляет клиента к форме активной корзины; nil снимает выбор.
func (m *Manager) SetActiveCustomer(ctx context.Context, customer *domain.Customer) (domain.Cart, error) {
	return m.mutateActive(ctx, "set_active_customer", func(cart *domain.Cart) error {
		cart.Form.SetCustomer(customer)
		return nil
	})
}

// CreateCustomer создаёт клиента в backend и делает его активным.
func (m *Manager) CreateCustomer(ctx context.Context, in domain.CustomerInput) (domain.Customer, error) {
	if m.customers == nil {
		return domain.Customer{}, m.fail("create_customer", errors.New("customer creation is not configured"))
	}
	if err := in.Validate(); err != nil {
		return domain.Customer{}, m.fail("create_customer", err)
	}

	customer, err := m.customers.CreateCustomer(ctx, in)
	if err != nil {
		return domain.Customer{}, m.fail("create_customer", err)
	}
	if _, err := m.SetActiveCustomer(ctx, &customer); err != nil {
		return customer, err
	}

	m.notify(domain.NotificationInfo, fmt.Sprintf("Customer %s created", customer.DisplayName()), nil)
	return customer, nil
}

// SetPaymentMethod переводит форму в режим одиночной оплаты.
func (m *Manager) SetPaymentMethod(ctx context.Context, method string) (domain.Cart, error) {
	return m.mutateActive(ctx, "set_payment_method", func(cart *domain.Cart) error {
		return cart.Form.SetPaymentMethod(method)
	})
}

// AddPaymentMethod добавляет запись split-оплаты.
func (m *Manager) AddPaymentMethod(ctx context.Context) (domain.Cart, error) {
	return m.mutateActive(ctx, "add_payment_method", func(cart *domain.Cart) error {
		cart.Form.AddPaymentMethod()
		return nil
	})
}

// UpdateSplitPayment меняет запись split-оплаты.
func (m *Manager) UpdateSplitPayment(ctx context.Context, index int, method string, amount decimal.Decimal) (domain.Cart, error) {
	return m.mutateActive(ctx, "update_split_payment", func(cart *domain.Cart) error {
		return cart.Form.UpdateSplitPayment(index, method, amount)
	})
}

// RemovePaymentMethod удаляет запись split-оплаты; меньше двух записей
// возвращают форму в одиночный режим.
func (m *Manager) RemovePaymentMethod(ctx context.Context, index int) (domain.Cart, error) {
	return m.mutateActive(ctx, "remove_payment_method", func(cart *domain.Cart) error {
		return cart.Form.RemovePaymentMethod(index)
	})
}

// SetNote задаёт комментарий к заказу.
func (m *Manager) SetNote(ctx context.Context, note string) (domain.Cart, error) {
	return m.mutateActive(ctx, "set_note", func(cart *domain.Cart) error {
		cart.Form.Note = strings.TrimSpace(note)
		return nil
	})
}

// PendingOrders возвращает отложенные заказы от старых к новым.
func (m *Manager) PendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	orders, err := m.pending.List(ctx)
	if err != nil {
		return nil, m.fail("list_pending", err)
	}
	return orders, nil
}

// mutateActive применяет fn к копии активной корзины, создавая её при необходимости.
func (m *Manager) mutateActive(ctx context.Context, op string, fn func(*domain.Cart) error) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[m.activeID]
	if !ok {
		cart = domain.NewCart(m.activeID, m.newKey(), m.now())
	}
	updated, err := m.commitLocked(ctx, cart, fn)
	if errors.Is(err, errUnchanged) {
		return m.viewLocked(m.activeID), nil
	}
	if err != nil {
		return m.viewLocked(m.activeID), m.fail(op, err)
	}
	return updated, nil
}

// commitLocked изменяет копию корзины и сохраняет её; при ошибке состояние
// в памяти остаётся прежним.
func (m *Manager) commitLocked(ctx context.Context, cart domain.Cart, fn func(*domain.Cart) error) (domain.Cart, error) {
	next := cart.Clone()
	if err := fn(&next); err != nil {
		return domain.Cart{}, err
	}
	next.UpdatedAt = m.now()

	if m.store != nil {
		if err := m.store.Save(ctx, next); err != nil {
			return domain.Cart{}, fmt.Errorf("save cart %s: %w", next.ID, err)
		}
	}
	m.carts[next.ID] = next
	m.metrics.SetCarts(len(m.carts))
	return next.Clone(), nil
}

func (m *Manager) resetLocked(cart *domain.Cart) {
	cart.Lines = []domain.CartLine{}
	cart.Form = domain.DefaultOrderForm()
	cart.SubmissionKey = m.newKey()
}

func (m *Manager) viewLocked(cartID string) domain.Cart {
	if cart, ok := m.carts[cartID]; ok {
		return cart.Clone()
	}
	return domain.NewCart(cartID, "", m.now())
}

// clearSubmitted очищает корзину, только если она всё ещё собирает ту же продажу
// и её содержимое совпадает с отправленным. Изменённая после снимка корзина
// сохраняется с новым ключом: отправленная продажа уже подтверждена.
func (m *Manager) clearSubmitted(ctx context.Context, cartID, key string, sent domain.OrderRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[cartID]
	if !ok || cart.SubmissionKey != key {
		return
	}

	current, err := cart.OrderRequest()
	unchanged := err == nil && current.Equal(sent)
	if _, err := m.commitLocked(ctx, cart, func(c *domain.Cart) error {
		if unchanged {
			m.resetLocked(c)
			return nil
		}
		c.SubmissionKey = m.newKey()
		return nil
	}); err != nil {
		m.logger.WithError(err).WithField("cart_id", cartID).Warn("failed to update submitted cart")
		return
	}
	if !unchanged {
		m.logger.WithFields(log.Fields{"cart_id": cartID, "sale_key": key}).
			Info("cart changed after sale snapshot, keeping it")
		m.notify(domain.NotificationWarning,
			"Order sent; items added after it was taken stay in the cart", nil)
	}
}

// fail логирует ошибку и сообщает о ней кассиру.
func (m *Manager) fail(op string, err error) error {
	entry := m.logger.WithError(err).WithField("operation", op)
	if domain.IsValidation(err) {
		entry.Info("sales operation rejected")
	} else {
		entry.Warn("sales operation failed")
	}

	var fields map[string]string
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		fields = verr.Fields
	}
	m.notify(domain.NotificationError, err.Error(), fields)
	return err
}

func (m *Manager) notify(level domain.NotificationLevel, message string, fields map[string]string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(domain.Notification{
		Level:     level,
		Message:   message,
		Fields:    fields,
		CreatedAt: m.now(),
	})
}

// enqueueEvent пишет событие продажи в outbox. ID детерминирован по типу и ключу,
// так что повтор одного события не создаёт дубль.
func (m *Manager) enqueueEvent(event domain.SaleEvent) {
	if m.outbox == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.WithError(err).Warn("failed to marshal sale event")
		return
	}

	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(event.EventType)+":"+event.SubmissionKey)).String()
	if _, err := m.outbox.Enqueue(domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.SaleAggregateType,
		AggregateID:   event.SubmissionKey,
		EventType:     string(event.EventType),
		Payload:       payload,
	}); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"event_type": event.EventType,
			"sale_key":   event.SubmissionKey,
		}).Warn("failed to enqueue sale event")
		return
	}
	m.metrics.RecordOutboxEvent()
}

func (m *Manager) refreshPendingGauge(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	if pending, err := m.pending.List(ctx); err == nil {
		m.metrics.SetPendingOrders(len(pending))
	}
}
