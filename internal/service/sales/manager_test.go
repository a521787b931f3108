package sales_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/sales"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

// fakeOrders — backend заказов: отклоняет заказы с товарами из rejected и
// запоминает idempotency-key каждого вызова.
type fakeOrders struct {
	mu       sync.Mutex
	rejected map[int64]error
	down     error
	keys     []string
	requests []domain.OrderRequest
	nextID   int64
	entered  chan struct{}
	block    chan struct{}
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{rejected: map[int64]error{}, nextID: 100}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, key string, req domain.OrderRequest) (domain.OrderConfirmation, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	if ctx.Err() != nil {
		return domain.OrderConfirmation{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.keys = append(f.keys, key)
	f.requests = append(f.requests, req.Clone())
	if f.down != nil {
		return domain.OrderConfirmation{}, f.down
	}
	for _, item := range req.LineItems {
		if err, ok := f.rejected[item.ProductID]; ok {
			return domain.OrderConfirmation{}, err
		}
	}
	f.nextID++
	return domain.OrderConfirmation{ID: f.nextID, Number: fmt.Sprint(f.nextID), Status: "completed"}, nil
}

func (f *fakeOrders) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

type fakeCustomers struct {
	err error
}

func (f *fakeCustomers) CreateCustomer(_ context.Context, in domain.CustomerInput) (domain.Customer, error) {
	if f.err != nil {
		return domain.Customer{}, f.err
	}
	return domain.Customer{ID: 55, FirstName: in.FirstName, LastName: in.LastName, Email: in.Email}, nil
}

type failingCartStore struct {
	domain.CartStore
	err error
}

func (s *failingCartStore) Save(ctx context.Context, cart domain.Cart) error {
	if s.err != nil {
		return s.err
	}
	return s.CartStore.Save(ctx, cart)
}

type fixture struct {
	manager   *sales.Manager
	orders    *fakeOrders
	customers *fakeCustomers
	pending   domain.PendingOrderStore
	carts     *failingCartStore
	outbox    *memory.OutboxRepository
	notes     *memory.NotificationLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		orders:    newFakeOrders(),
		customers: &fakeCustomers{},
		pending:   memory.NewPendingOrderRepository(),
		carts:     &failingCartStore{CartStore: memory.NewCartRepository()},
		outbox:    memory.NewOutboxRepository(),
		notes:     memory.NewNotificationLog(0),
	}

	var seq int
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	manager, err := sales.NewManager(sales.Dependencies{
		Orders:    f.orders,
		Customers: f.customers,
		Pending:   f.pending,
		Carts:     f.carts,
		Outbox:    f.outbox,
		Notifier:  f.notes,
	},
		sales.WithKeyGenerator(func() string {
			seq++
			return fmt.Sprintf("sale-%d", seq)
		}),
		sales.WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	require.NoError(t, err)
	f.manager = manager
	return f
}

func product(id int64, price string) domain.Product {
	return domain.Product{
		ID:       id,
		Name:     fmt.Sprintf("Product %d", id),
		Price:    decimal.RequireFromString(price),
		Currency: "USD",
	}
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := sales.NewManager(sales.Dependencies{Pending: memory.NewPendingOrderRepository()})
	require.Error(t, err)

	_, err = sales.NewManager(sales.Dependencies{Orders: newFakeOrders()})
	require.Error(t, err)
}

func TestAddItem_SameProductIncrementsQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.AddItem(ctx, product(1, "10"))
	require.NoError(t, err)
	cart, err := f.manager.AddItem(ctx, product(1, "10"))
	require.NoError(t, err)

	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 2, cart.Lines[0].Quantity)
	assert.Equal(t, 2, f.manager.ItemsCount())
	assert.Equal(t, sales.DefaultCartID, cart.ID)
}

func TestAddItem_CapturesSalePriceSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := product(1, "12")
	p.RegularPrice = decimal.RequireFromString("12")
	p.SalePrice = decimal.RequireFromString("10")
	_, err := f.manager.AddItem(ctx, p)
	require.NoError(t, err)

	// цена в каталоге поменялась, позиция сохраняет цену на момент добавления
	p.SalePrice = decimal.RequireFromString("20")
	cart, err := f.manager.AddItem(ctx, p)
	require.NoError(t, err)

	assert.True(t, cart.Lines[0].UnitPrice.Equal(decimal.NewFromInt(10)))
	assert.True(t, f.manager.Subtotal().Equal(decimal.NewFromInt(20)))
}

func TestAddItem_InvalidProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.AddItem(context.Background(), domain.Product{ID: 0})
	require.ErrorIs(t, err, domain.ErrProductIDInvalid)
	assert.Empty(t, f.manager.CartIDs())
	assert.Len(t, f.notes.Peek(), 1)
}

func TestDecreaseAndRemoveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	_, _ = f.manager.AddItem(ctx, product(2, "5"))

	cart, err := f.manager.DecreaseItem(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1, "quantity 1 decreased to 0 removes the line")
	assert.Equal(t, int64(2), cart.Lines[0].ProductID)

	cart, err = f.manager.DecreaseItem(ctx, 42)
	require.NoError(t, err, "absent product is a no-op")
	assert.Len(t, cart.Lines, 1)

	cart, err = f.manager.RemoveItem(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)

	_, err = f.manager.RemoveItem(ctx, 2)
	require.NoError(t, err)
}

func TestSubtotalFormatting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "$0.00", f.manager.FormattedSubtotal())

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	_, _ = f.manager.AddItem(ctx, product(2, "5"))
	assert.Equal(t, "$25.00", f.manager.FormattedSubtotal())
}

func TestSetActiveCart_DoesNotTouchOtherCarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	require.NoError(t, f.manager.SetActiveCart(ctx, "register-2"))
	assert.Empty(t, f.manager.ActiveCart().Lines)

	_, _ = f.manager.AddItem(ctx, product(2, "5"))

	main, err := f.manager.Snapshot(sales.DefaultCartID)
	require.NoError(t, err)
	require.Len(t, main.Lines, 1)
	assert.Equal(t, int64(1), main.Lines[0].ProductID)
	assert.Equal(t, []string{sales.DefaultCartID, "register-2"}, f.manager.CartIDs())

	require.ErrorIs(t, f.manager.SetActiveCart(ctx, "  "), domain.ErrCartIDRequired)
	assert.Equal(t, "register-2", f.manager.ActiveCartID())
}

func TestClearCart_ResetsFormAndRotatesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	_, _ = f.manager.SetActiveCustomer(ctx, &domain.Customer{ID: 7})
	_, _ = f.manager.AddPaymentMethod(ctx)
	before := f.manager.ActiveCart()

	cleared, err := f.manager.ClearCart(ctx, sales.DefaultCartID)
	require.NoError(t, err)
	assert.Empty(t, cleared.Lines)
	assert.Equal(t, domain.DefaultOrderForm(), cleared.Form)
	assert.NotEqual(t, before.SubmissionKey, cleared.SubmissionKey)

	_, err = f.manager.ClearCart(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestSplitPayments_CollapseKeepsFirstMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.SetPaymentMethod(ctx, "card")
	require.NoError(t, err)

	cart, err := f.manager.AddPaymentMethod(ctx)
	require.NoError(t, err)
	require.Len(t, cart.Form.SplitPayments, 2)
	assert.Empty(t, cart.Form.PaymentMethod)
	assert.Equal(t, "card", cart.Form.SplitPayments[0].Method)

	_, err = f.manager.UpdateSplitPayment(ctx, 1, "cash", decimal.NewFromInt(5))
	require.NoError(t, err)
	_, err = f.manager.AddPaymentMethod(ctx)
	require.NoError(t, err)

	cart, err = f.manager.RemovePaymentMethod(ctx, 2)
	require.NoError(t, err)
	require.True(t, cart.Form.IsSplit())

	cart, err = f.manager.RemovePaymentMethod(ctx, 1)
	require.NoError(t, err)
	assert.False(t, cart.Form.IsSplit())
	assert.Equal(t, "card", cart.Form.PaymentMethod)
}

func TestPaymentErrors_LeaveStateUnchangedAndNotify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.manager.AddPaymentMethod(ctx)
	before := f.manager.ActiveCart()

	_, err := f.manager.RemovePaymentMethod(ctx, 7)
	require.ErrorIs(t, err, domain.ErrInvalidPaymentIndex)
	_, err = f.manager.UpdateSplitPayment(ctx, 0, "cash", decimal.NewFromInt(-1))
	require.ErrorIs(t, err, domain.ErrPaymentAmountNegative)

	assert.Equal(t, before.Form, f.manager.ActiveCart().Form)
	notes := f.notes.Drain()
	require.Len(t, notes, 2)
	assert.Equal(t, domain.NotificationError, notes[0].Level)
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	f.carts.err = errors.New("redis down")

	_, err := f.manager.AddItem(ctx, product(1, "10"))
	require.Error(t, err)
	assert.Equal(t, 1, f.manager.ItemsCount())
}

func TestCreateCustomer_SetsActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.manager.CreateCustomer(ctx, domain.CustomerInput{FirstName: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)
	require.NotNil(t, f.manager.ActiveCart().Form.CustomerID)
	assert.Equal(t, c.ID, *f.manager.ActiveCart().Form.CustomerID)

	f.customers.err = domain.NewValidationError("invalid customer", map[string]string{"email": "already exists"})
	_, err = f.manager.CreateCustomer(ctx, domain.CustomerInput{FirstName: "Bob", Email: "bob@example.com"})
	require.True(t, domain.IsValidation(err))
	assert.Equal(t, c.ID, *f.manager.ActiveCart().Form.CustomerID)

	notes := f.notes.Drain()
	last := notes[len(notes)-1]
	assert.Equal(t, "already exists", last.Fields["email"])
}

func TestSubmitOrder_SendsQuantitiesOnlyAndClearsCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	_, _ = f.manager.AddItem(ctx, product(2, "5"))
	key := f.manager.ActiveCart().SubmissionKey

	res, err := f.manager.SubmitOrder(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Nil(t, res.Pending)

	assert.Equal(t, []string{key}, f.orders.keys)
	assert.Equal(t, []domain.OrderLineItem{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}}, f.orders.requests[0].LineItems)
	assert.Equal(t, domain.DefaultPaymentMethod, f.orders.requests[0].PaymentMethod)

	cart := f.manager.ActiveCart()
	assert.Empty(t, cart.Lines)
	assert.NotEqual(t, key, cart.SubmissionKey)

	events := f.outbox.AllPending()
	require.Len(t, events, 1)
	assert.Equal(t, string(domain.SaleEventCompleted), events[0].EventType)
	assert.Equal(t, key, events[0].AggregateID)

	var payload domain.SaleEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "$25.00", payload.Subtotal)
	assert.Equal(t, 3, payload.ItemsCount)
}

func TestSetNote_TrimmedAndSentWithOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	cart, err := f.manager.SetNote(ctx, "  leave at door ")
	require.NoError(t, err)
	assert.Equal(t, "leave at door", cart.Form.Note)

	_, err = f.manager.SubmitOrder(ctx)
	require.NoError(t, err)
	require.Len(t, f.orders.requests, 1)
	assert.Equal(t, "leave at door", f.orders.requests[0].Note)
	assert.Empty(t, f.manager.ActiveCart().Form.Note)
}

func TestSubmitOrder_EmptyCartAndInvalidForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.SubmitOrder(ctx)
	require.ErrorIs(t, err, domain.ErrCartEmpty)

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	_, _ = f.manager.AddPaymentMethod(ctx)
	_, _ = f.manager.UpdateSplitPayment(ctx, 1, "", decimal.Zero)

	_, err = f.manager.SubmitOrder(ctx)
	require.True(t, domain.IsValidation(err))

	pending, _ := f.manager.PendingOrders(ctx)
	assert.Empty(t, pending)
	assert.Equal(t, 0, f.orders.calls())
}

func TestSubmitOrder_FailureQueuesPendingOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orders.down = fmt.Errorf("dial tcp: %w", domain.ErrBackendUnavailable)

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	key := f.manager.ActiveCart().SubmissionKey

	res, err := f.manager.SubmitOrder(ctx)
	require.ErrorIs(t, err, sales.ErrOrderQueued)
	require.ErrorIs(t, err, domain.ErrBackendUnavailable)
	require.NotNil(t, res.Pending)
	assert.Equal(t, key, res.Pending.ID)

	// повторная отправка той же корзины обновляет запись, а не создаёт новую
	res, err = f.manager.SubmitOrder(ctx)
	require.ErrorIs(t, err, sales.ErrOrderQueued)
	assert.Equal(t, 2, res.Pending.Attempts)

	pending, err := f.manager.PendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Len(t, f.manager.ActiveCart().Lines, 1, "cart is left intact")
	assert.Len(t, f.outbox.AllPending(), 1, "queued event is not duplicated")
}

func TestSubmitOrder_SnapshotTakenBeforeCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orders.entered = make(chan struct{}, 1)
	f.orders.block = make(chan struct{})

	_, _ = f.manager.AddItem(ctx, product(1, "10"))

	done := make(chan sales.SubmitResult, 1)
	go func() {
		res, _ := f.manager.SubmitOrder(ctx)
		done <- res
	}()

	// кассир добавляет товар, пока заказ в полёте: блокировка не удерживается
	<-f.orders.entered
	_, err := f.manager.AddItem(ctx, product(2, "5"))
	require.NoError(t, err)
	close(f.orders.block)

	res := <-done
	require.NotNil(t, res.Order)
	assert.Equal(t, []domain.OrderLineItem{{ProductID: 1, Quantity: 1}}, f.orders.requests[0].LineItems)

	cart := f.manager.ActiveCart()
	assert.Len(t, cart.Lines, 2, "lines added during the call stay in the cart")
	assert.NotEqual(t, f.orders.keys[0], cart.SubmissionKey)
}

func TestSubmitOrder_CallerCancellationDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	_, _ = f.manager.AddItem(context.Background(), product(1, "10"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.manager.SubmitOrder(ctx)
	require.NoError(t, err)
	assert.NotNil(t, res.Order)
}

func TestSyncPendingOrders_PartialFailureKeepsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orders.down = fmt.Errorf("offline: %w", domain.ErrBackendUnavailable)

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	_, _ = f.manager.SubmitOrder(ctx)
	require.NoError(t, f.manager.SetActiveCart(ctx, "register-2"))
	_, _ = f.manager.AddItem(ctx, product(2, "5"))
	_, _ = f.manager.SubmitOrder(ctx)

	f.orders.down = nil
	f.orders.rejected[2] = domain.NewValidationError("out of stock", map[string]string{"line_items": "Product 2 is out of stock"})

	report, err := f.manager.SyncPendingOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Remaining)

	pending, err := f.manager.PendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "register-2", pending[0].CartID)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "out of stock")

	main, err := f.manager.Snapshot(sales.DefaultCartID)
	require.NoError(t, err)
	assert.Empty(t, main.Lines, "cart of the synced sale is cleared")
	second, err := f.manager.Snapshot("register-2")
	require.NoError(t, err)
	assert.Len(t, second.Lines, 1)
}

func TestSyncPendingOrders_ReusesSubmissionKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orders.down = fmt.Errorf("offline: %w", domain.ErrBackendUnavailable)

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	key := f.manager.ActiveCart().SubmissionKey
	_, _ = f.manager.SubmitOrder(ctx)

	f.orders.down = nil
	_, err := f.manager.SyncPendingOrders(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{key, key}, f.orders.keys)

	types := map[string]bool{}
	for _, e := range f.outbox.AllPending() {
		types[e.EventType] = true
	}
	assert.True(t, types[string(domain.SaleEventQueued)])
	assert.True(t, types[string(domain.SaleEventPendingSynced)])
}

func TestSyncPendingOrders_CartChangedAfterQueueIsKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orders.down = fmt.Errorf("offline: %w", domain.ErrBackendUnavailable)

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	_, _ = f.manager.SubmitOrder(ctx)

	// кассир очистил корзину и начал новую продажу
	_, err := f.manager.ClearCart(ctx, sales.DefaultCartID)
	require.NoError(t, err)
	_, _ = f.manager.AddItem(ctx, product(3, "1"))

	f.orders.down = nil
	report, err := f.manager.SyncPendingOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Len(t, f.manager.ActiveCart().Lines, 1, "new sale is not cleared by an old sync")
}

func TestSyncPendingOrders_ItemsAddedAfterQueueAreKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orders.down = fmt.Errorf("offline: %w", domain.ErrBackendUnavailable)

	_, _ = f.manager.AddItem(ctx, product(1, "10"))
	key := f.manager.ActiveCart().SubmissionKey
	_, _ = f.manager.SubmitOrder(ctx)

	// та же корзина, ключ прежний
	_, err := f.manager.AddItem(ctx, product(2, "5"))
	require.NoError(t, err)
	require.Len(t, f.manager.ActiveCart().Lines, 2)
	f.notes.Drain()

	f.orders.down = nil
	report, err := f.manager.SyncPendingOrders(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Synced)
	assert.Equal(t, []domain.OrderLineItem{{ProductID: 1, Quantity: 1}}, f.orders.requests[len(f.orders.requests)-1].LineItems)

	cart := f.manager.ActiveCart()
	assert.Len(t, cart.Lines, 2, "unsent lines are not dropped")
	assert.NotEqual(t, key, cart.SubmissionKey, "next submit must not reuse the synced key")

	levels := map[domain.NotificationLevel]bool{}
	for _, n := range f.notes.Drain() {
		levels[n.Level] = true
	}
	assert.True(t, levels[domain.NotificationWarning])

	res, err := f.manager.SubmitOrder(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Empty(t, f.manager.ActiveCart().Lines)
}

func TestRestore_LoadsSavedCarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.manager.AddItem(ctx, product(1, "10"))

	restored, err := sales.NewManager(sales.Dependencies{
		Orders:  f.orders,
		Pending: f.pending,
		Carts:   f.carts,
	})
	require.NoError(t, err)

	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, restored.ItemsCount())
}
