// Package httpapi публикует кассовые сессии и дашборд через JSON API.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/catalog"
	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/analytics"
	"github.com/vladislavdragonenkov/pos/internal/service/sales"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
)

// NotificationSource отдаёт накопленные уведомления кассира.
type NotificationSource interface {
	Drain() []domain.Notification
}

// Dependencies — сервисы, которые обслуживает API.
type Dependencies struct {
	Sales         *sales.Manager
	Catalog       *catalog.Cache
	Analytics     *analytics.Service
	Notifications NotificationSource
	Auth          *Authenticator
	// Idempotency необязателен: без него Idempotency-Key игнорируется.
	Idempotency domain.IdempotencyStore
}

// Options — параметры HTTP-слоя.
type Options struct {
	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	Logger         *log.Entry
}

// Handler обслуживает маршруты /api/v1.
type Handler struct {
	sales         *sales.Manager
	catalog       *catalog.Cache
	analytics     *analytics.Service
	notifications NotificationSource
	logger        *log.Entry
	now           func() time.Time
}

// NewRouter собирает chi-роутер кассового API.
func NewRouter(deps Dependencies, opts Options) (http.Handler, error) {
	if deps.Sales == nil {
		return nil, errors.New("httpapi: sales manager is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("httpapi: authenticator is required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaultIdempotencyTTL
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "http-api")
	}

	h := &Handler{
		sales:         deps.Sales,
		catalog:       deps.Catalog,
		analytics:     deps.Analytics,
		notifications: deps.Notifications,
		logger:        opts.Logger,
		now:           time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	replayable := idempotent(deps.Idempotency, opts.IdempotencyTTL, func() time.Time { return time.Now().UTC() }, opts.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Require(salesRoles...))

			r.Get("/session", h.getSession)
			r.Put("/session/active-cart", h.setActiveCart)

			r.Get("/cart", h.getCart)
			r.Post("/cart/items", h.addItem)
			r.Post("/cart/items/{productID}/decrease", h.decreaseItem)
			r.Delete("/cart/items/{productID}", h.removeItem)
			r.Delete("/carts/{cartID}", h.clearCart)
			r.Put("/cart/customer", h.setCustomer)
			r.Post("/cart/customer", h.createCustomer)
			r.Put("/cart/payment-method", h.setPaymentMethod)
			r.Post("/cart/payments", h.addPayment)
			r.Put("/cart/payments/{index}", h.updatePayment)
			r.Delete("/cart/payments/{index}", h.removePayment)
			r.Put("/cart/note", h.setNote)
			r.With(replayable).Post("/cart/submit", h.submitOrder)

			r.Get("/pending", h.listPending)
			r.With(replayable).Post("/pending/sync", h.syncPending)
			r.Get("/notifications", h.drainNotifications)

			r.Get("/products", h.listProducts)
			r.Get("/customers", h.listCustomers)
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Require(reportsRoles...))

			r.Get("/dashboard", h.dashboard)
			r.Get("/reports/sales", h.salesReport)
		})
	})

	return r, nil
}

// requestLogger пишет одну строку logrus на запрос.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return
			}
			entry.Debug("request served")
		})
	}
}
