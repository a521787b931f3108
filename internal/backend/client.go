// Package backend — JSON/HTTP клиент REST API WooCommerce POS.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 4 << 20

	// HeaderIdempotencyKey передаёт ключ продажи в POST /orders.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Config задаёт подключение к backend.
type Config struct {
	BaseURL string
	// Token — bearer-токен сессии кассира.
	Token   string
	Timeout time.Duration
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет http.Client (тесты, прокси).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRetryConfig задаёт повторы запросов чтения.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg.normalized()
	}
}

// WithCircuitBreaker задаёт общий circuit breaker.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *Client) {
		if cb != nil {
			c.breaker = cb
		}
	}
}

// WithMetrics подключает метрики длительности вызовов.
func WithMetrics(m *metrics.SalesMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger задаёт logger клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client реализует порты domain поверх REST API backend.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	retry   RetryConfig
	breaker *CircuitBreaker
	metrics *metrics.SalesMetrics
	logger  *log.Entry
}

// NewClient создаёт клиента backend.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("backend base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend base url must be http(s): %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	logger := log.WithField("component", "backend-client")
	c := &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		retry:   DefaultRetryConfig(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewCircuitBreaker(5, 30*time.Second, c.logger.WithField("component", "backend-breaker"))
	}
	c.breaker.OnStateChange(func(state CircuitState) {
		c.metrics.SetCircuitOpen(state == CircuitOpen)
	})
	return c, nil
}

// Breaker возвращает circuit breaker клиента.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	headers map[string]string
	// retryable — запрос безопасно повторять (чтение или идемпотентная запись).
	retryable bool
}

// call выполняет запрос через circuit breaker; временные ошибки retryable-запросов
// повторяются с exponential backoff.
func (c *Client) call(ctx context.Context, op string, req request, out any) error {
	attempts := 1
	if req.retryable {
		attempts = c.retry.MaxAttempts
	}
	delay := c.retry.InitialDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.breaker.Execute(op, func() error {
			return c.roundTrip(ctx, op, req, out)
		})
		if err == nil {
			if attempt > 1 {
				c.logger.WithFields(log.Fields{"operation": op, "attempt": attempt}).Info("backend call succeeded after retry")
			}
			return nil
		}
		if !shouldRetry(err) || attempt == attempts {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"operation": op,
			"attempt":   attempt,
			"delay":     delay.String(),
		}).Warn("backend call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = c.retry.nextDelay(delay)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op string, req request, out any) error {
	start := time.Now()
	err := c.send(ctx, req, out)
	c.metrics.ObserveBackendCall(op, time.Since(start), err)
	return err
}

func (c *Client) send(ctx context.Context, req request, out any) error {
	target := c.baseURL.JoinPath(req.path)
	if len(req.query) > 0 {
		target.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("marshal %s %s body: %w", req.method, req.path, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", req.method, req.path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w: %v", req.method, req.path, domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s %s response: %w: %v", req.method, req.path, domain.ErrBackendUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if err := decodeData(raw, out); err != nil {
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	return nil
}

// Ping проверяет доступность backend запросом к индексу API.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", request{method: http.MethodGet, path: "/"}, nil)
}

var _ domain.Pinger = (*Client)(nil)
