package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/catalog"
	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/httpapi"
	"github.com/vladislavdragonenkov/pos/internal/service/analytics"
	"github.com/vladislavdragonenkov/pos/internal/service/sales"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

const testSecret = "test-secret"

// fakeBackend заменяет REST backend магазина.
type fakeBackend struct {
	mu        sync.Mutex
	products  map[int64]domain.Product
	customers map[int64]domain.Customer
	down      bool
	orders    []domain.OrderRequest
	nextID    int64
	summary   domain.Summary
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		products: map[int64]domain.Product{
			1: {ID: 1, Name: "Latte", Price: decimal.NewFromInt(10), RegularPrice: decimal.NewFromInt(10), Currency: "USD"},
			2: {ID: 2, Name: "Cookie", Price: decimal.NewFromInt(5), RegularPrice: decimal.NewFromInt(5), Currency: "USD"},
		},
		customers: map[int64]domain.Customer{
			7: {ID: 7, FirstName: "Ann", LastName: "Lee", Email: "ann@example.com"},
		},
		nextID: 100,
	}
}

func (b *fakeBackend) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeBackend) orderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func (b *fakeBackend) CreateOrder(_ context.Context, _ string, req domain.OrderRequest) (domain.OrderConfirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return domain.OrderConfirmation{}, &domain.BackendError{Status: http.StatusServiceUnavailable, Message: "maintenance"}
	}
	b.orders = append(b.orders, req)
	b.nextID++
	return domain.OrderConfirmation{ID: b.nextID, Status: "completed", Total: decimal.NewFromInt(25), Currency: "USD"}, nil
}

func (b *fakeBackend) CreateCustomer(_ context.Context, in domain.CustomerInput) (domain.Customer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	c := domain.Customer{ID: b.nextID, FirstName: in.FirstName, LastName: in.LastName, Email: in.Email}
	b.customers[c.ID] = c
	return c, nil
}

func (b *fakeBackend) ListProducts(context.Context, string) ([]domain.Product, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return []domain.Product{b.products[1], b.products[2]}, nil
}

func (b *fakeBackend) GetProduct(_ context.Context, id int64) (domain.Product, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (b *fakeBackend) ListCustomers(context.Context, string) ([]domain.Customer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return []domain.Customer{b.customers[7]}, nil
}

func (b *fakeBackend) GetCustomer(_ context.Context, id int64) (domain.Customer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return c, nil
}

func (b *fakeBackend) DashboardSummary(context.Context, domain.DateRange) (domain.Summary, error) {
	return b.summary, nil
}

func (b *fakeBackend) SalesReport(context.Context, domain.DateRange) (domain.SalesByDate, error) {
	return b.summary.SalesByDate, nil
}

type fixture struct {
	t       *testing.T
	backend *fakeBackend
	server  *httptest.Server
	auth    *httpapi.Authenticator
	manager *sales.Manager
	notes   *memory.NotificationLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend := newFakeBackend()
	notes := memory.NewNotificationLog(50)
	manager, err := sales.NewManager(sales.Dependencies{
		Orders:    backend,
		Customers: backend,
		Pending:   memory.NewPendingOrderRepository(),
		Carts:     memory.NewCartRepository(),
		Outbox:    memory.NewOutboxRepository(),
		Notifier:  notes,
	})
	require.NoError(t, err)

	auth, err := httpapi.NewAuthenticator(testSecret)
	require.NoError(t, err)

	handler, err := httpapi.NewRouter(httpapi.Dependencies{
		Sales:         manager,
		Catalog:       catalog.New(backend, backend, nil),
		Analytics:     analytics.NewService(backend),
		Notifications: notes,
		Auth:          auth,
		Idempotency:   memory.NewIdempotencyRepository(),
	}, httpapi.Options{RequestTimeout: 5 * time.Second})
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &fixture{t: t, backend: backend, server: srv, auth: auth, manager: manager, notes: notes}
}

func (f *fixture) token(role string) string {
	f.t.Helper()
	token, err := f.auth.Issue("user-1", role, time.Hour)
	require.NoError(f.t, err)
	return token
}

type apiResponse struct {
	Status  int             `json:"-"`
	Header  http.Header     `json:"-"`
	Raw     []byte          `json:"-"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func (f *fixture) do(method, path, role string, body any, headers ...string) apiResponse {
	f.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(role))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)

	out := apiResponse{Status: resp.StatusCode, Header: resp.Header, Raw: raw}
	require.NoError(f.t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func decodeData[T any](t *testing.T, resp apiResponse) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Data, &v), string(resp.Data))
	return v
}
