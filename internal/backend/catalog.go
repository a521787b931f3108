package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type wireProduct struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	Price        json.RawMessage `json:"price"`
	RegularPrice json.RawMessage `json:"regular_price"`
	SalePrice    json.RawMessage `json:"sale_price"`
	Currency     string          `json:"currency"`
	StockStatus  string          `json:"stock_status"`
}

func (w wireProduct) toDomain() (domain.Product, error) {
	price, err := domain.ParseAmount(w.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %d price: %w", w.ID, err)
	}
	regular, err := domain.ParseAmount(w.RegularPrice)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %d regular price: %w", w.ID, err)
	}
	sale, err := domain.ParseAmount(w.SalePrice)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %d sale price: %w", w.ID, err)
	}
	return domain.Product{
		ID:           w.ID,
		Name:         w.Name,
		SKU:          w.SKU,
		Price:        price,
		RegularPrice: regular,
		SalePrice:    sale,
		Currency:     strings.ToUpper(strings.TrimSpace(w.Currency)),
		StockStatus:  w.StockStatus,
	}, nil
}

func searchQuery(search string) url.Values {
	q := url.Values{"per_page": {"100"}}
	if s := strings.TrimSpace(search); s != "" {
		q.Set("search", s)
	}
	return q
}

// ListProducts загружает каталог через GET /products.
func (c *Client) ListProducts(ctx context.Context, search string) ([]domain.Product, error) {
	var wire []wireProduct
	if err := c.call(ctx, "list_products", request{
		method:    http.MethodGet,
		path:      "/products",
		query:     searchQuery(search),
		retryable: true,
	}, &wire); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(wire))
	for _, w := range wire {
		p, err := w.toDomain()
		if err != nil {
			c.logger.WithError(err).WithField("product_id", w.ID).Warn("skipping product with malformed price")
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// GetProduct загружает товар через GET /products/{id}.
func (c *Client) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, domain.ErrProductIDInvalid
	}

	var wire wireProduct
	err := c.call(ctx, "get_product", request{
		method:    http.MethodGet,
		path:      "/products/" + strconv.FormatInt(id, 10),
		retryable: true,
	}, &wire)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, err
	}
	return wire.toDomain()
}

// ListCustomers загружает клиентов через GET /customers.
func (c *Client) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	var customers []domain.Customer
	if err := c.call(ctx, "list_customers", request{
		method:    http.MethodGet,
		path:      "/customers",
		query:     searchQuery(search),
		retryable: true,
	}, &customers); err != nil {
		return nil, err
	}
	if customers == nil {
		customers = []domain.Customer{}
	}
	return customers, nil
}

// GetCustomer загружает клиента через GET /customers/{id}.
func (c *Client) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	var customer domain.Customer
	err := c.call(ctx, "get_customer", request{
		method:    http.MethodGet,
		path:      "/customers/" + strconv.FormatInt(id, 10),
		retryable: true,
	}, &customer)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, err
}

// CreateCustomer создаёт клиента через POST /customers. Запрос не повторяется:
// у него нет ключа идемпотентности.
func (c *Client) CreateCustomer(ctx context.Context, in domain.CustomerInput) (domain.Customer, error) {
	if err := in.Validate(); err != nil {
		return domain.Customer{}, err
	}

	var customer domain.Customer
	if err := c.call(ctx, "create_customer", request{
		method: http.MethodPost,
		path:   "/customers",
		body:   in,
	}, &customer); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

var (
	_ domain.ProductSource     = (*Client)(nil)
	_ domain.CustomerDirectory = (*Client)(nil)
	_ domain.CustomerCreator   = (*Client)(nil)
)
