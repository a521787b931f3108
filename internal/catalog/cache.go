// Package catalog кэширует товары и клиентов backend по идентификатору.
// Цены в корзинах — снимки и из кэша повторно не читаются.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Cache — пассивный кэш товаров и клиентов поверх источников backend.
type Cache struct {
	products  domain.ProductSource
	customers domain.CustomerDirectory
	logger    *log.Entry

	mu           sync.RWMutex
	productByID  map[int64]domain.Product
	customerByID map[int64]domain.Customer

	sfg singleflight.Group
}

// New создаёт кэш. Любой из источников может быть nil: соответствующие
// методы тогда работают только по уже закэшированным данным.
func New(products domain.ProductSource, customers domain.CustomerDirectory, logger *log.Entry) *Cache {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Cache{
		products:     products,
		customers:    customers,
		logger:       logger,
		productByID:  make(map[int64]domain.Product),
		customerByID: make(map[int64]domain.Customer),
	}
}

// Product возвращает товар из кэша, при промахе загружает его из backend.
func (c *Cache) Product(ctx context.Context, id int64) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, domain.ErrProductIDInvalid
	}

	c.mu.RLock()
	p, ok := c.productByID[id]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}
	if c.products == nil {
		return domain.Product{}, domain.ErrProductNotFound
	}

	v, err, _ := c.sfg.Do("product:"+strconv.FormatInt(id, 10), func() (any, error) {
		return c.products.GetProduct(ctx, id)
	})
	if err != nil {
		return domain.Product{}, err
	}
	p = v.(domain.Product)

	c.mu.Lock()
	c.productByID[p.ID] = p
	c.mu.Unlock()
	return p, nil
}

// Customer возвращает клиента из кэша, при промахе загружает его из backend.
func (c *Cache) Customer(ctx context.Context, id int64) (domain.Customer, error) {
	c.mu.RLock()
	cust, ok := c.customerByID[id]
	c.mu.RUnlock()
	if ok {
		return cust, nil
	}
	if c.customers == nil || id <= 0 {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}

	v, err, _ := c.sfg.Do("customer:"+strconv.FormatInt(id, 10), func() (any, error) {
		return c.customers.GetCustomer(ctx, id)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	cust = v.(domain.Customer)
	c.Remember(cust)
	return cust, nil
}

// Remember кладёт клиента в кэш (например, только что созданного на кассе).
func (c *Cache) Remember(cust domain.Customer) {
	if cust.ID <= 0 {
		return
	}
	c.mu.Lock()
	c.customerByID[cust.ID] = cust
	c.mu.Unlock()
}

// Products ищет товары в backend и дополняет кэш результатом.
func (c *Cache) Products(ctx context.Context, search string) ([]domain.Product, error) {
	if c.products == nil {
		return []domain.Product{}, nil
	}
	list, err := c.products.ListProducts(ctx, search)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, p := range list {
		c.productByID[p.ID] = p
	}
	c.mu.Unlock()
	return list, nil
}

// Customers ищет клиентов в backend и дополняет кэш результатом.
func (c *Cache) Customers(ctx context.Context, search string) ([]domain.Customer, error) {
	if c.customers == nil {
		return []domain.Customer{}, nil
	}
	list, err := c.customers.ListCustomers(ctx, search)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, cust := range list {
		c.customerByID[cust.ID] = cust
	}
	c.mu.Unlock()
	return list, nil
}

// Refresh перезагружает каталог целиком. При ошибке кэш не меняется.
func (c *Cache) Refresh(ctx context.Context) error {
	products := map[int64]domain.Product{}
	if c.products != nil {
		list, err := c.products.ListProducts(ctx, "")
		if err != nil {
			return fmt.Errorf("refresh products: %w", err)
		}
		for _, p := range list {
			products[p.ID] = p
		}
	}

	customers := map[int64]domain.Customer{}
	if c.customers != nil {
		list, err := c.customers.ListCustomers(ctx, "")
		if err != nil {
			return fmt.Errorf("refresh customers: %w", err)
		}
		for _, cust := range list {
			customers[cust.ID] = cust
		}
	}

	c.mu.Lock()
	c.productByID = products
	c.customerByID = customers
	c.mu.Unlock()

	c.logger.WithFields(log.Fields{
		"products":  len(products),
		"customers": len(customers),
	}).Info("catalog refreshed")
	return nil
}

// Len возвращает число закэшированных товаров и клиентов.
func (c *Cache) Len() (products, customers int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.productByID), len(c.customerByID)
}
