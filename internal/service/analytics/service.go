package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
)

const defaultLoadTimeout = 30 * time.Second

// Option настраивает Service.
type Option func(*Service)

// WithOrderHistory подключает сырые заказы: дашборд считается локально,
// если backend не отдаёт сводку (404).
func WithOrderHistory(history domain.OrderHistory) Option {
	return func(s *Service) {
		s.history = history
	}
}

// WithMetrics подключает метрики запросов дашборда.
func WithMetrics(m *metrics.SalesMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLoadTimeout ограничивает общую загрузку агрегата.
func WithLoadTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithDefaultCurrency задаёт валюту для локальной агрегации.
func WithDefaultCurrency(currency string) Option {
	return func(s *Service) {
		if currency != "" {
			s.currency = currency
		}
	}
}

// Service загружает агрегат за диапазон дат и строит по нему дашборд.
// Одинаковые одновременные запросы схлопываются в один вызов backend.
type Service struct {
	reports  domain.ReportSource
	history  domain.OrderHistory
	metrics  *metrics.SalesMetrics
	logger   *log.Entry
	currency string
	timeout  time.Duration

	sfg singleflight.Group
}

// NewService создаёт сервис аналитики.
func NewService(reports domain.ReportSource, opts ...Option) *Service {
	s := &Service{
		reports:  reports,
		logger:   log.WithField("component", "analytics"),
		currency: domain.DefaultCurrency,
		timeout:  defaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dashboard возвращает все графики дашборда за диапазон.
func (s *Service) Dashboard(ctx context.Context, r domain.DateRange) (Dashboard, error) {
	summary, err := s.Summary(ctx, r)
	if err != nil {
		return Dashboard{}, err
	}
	return BuildDashboard(summary, r), nil
}

// Summary загружает агрегат целиком; предыдущий результат не переиспользуется.
func (s *Service) Summary(ctx context.Context, r domain.DateRange) (domain.Summary, error) {
	if err := r.Validate(); err != nil {
		return domain.Summary{}, err
	}

	v, err, shared := s.shared(ctx, "summary:"+r.Key(), func(loadCtx context.Context) (any, error) {
		return s.loadSummary(loadCtx, r)
	})
	s.metrics.RecordDashboardRequest(err, shared)
	if err != nil {
		s.logger.WithError(err).WithField("range", r.Key()).Warn("dashboard summary failed")
		return domain.Summary{}, err
	}
	return v.(domain.Summary), nil
}

func (s *Service) loadSummary(ctx context.Context, r domain.DateRange) (domain.Summary, error) {
	if s.reports == nil {
		return s.aggregateHistory(ctx, r)
	}

	summary, err := s.reports.DashboardSummary(ctx, r)
	if err == nil {
		return summary, nil
	}
	if errors.Is(err, domain.ErrNotFound) && s.history != nil {
		s.logger.WithField("range", r.Key()).Info("dashboard summary endpoint missing, aggregating orders locally")
		return s.aggregateHistory(ctx, r)
	}
	return domain.Summary{}, err
}

func (s *Service) aggregateHistory(ctx context.Context, r domain.DateRange) (domain.Summary, error) {
	if s.history == nil {
		return domain.Summary{}, errors.New("analytics: no report source configured")
	}
	records, err := s.history.ListOrders(ctx, r)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("list orders: %w", err)
	}
	return Aggregate(records, r, s.currency), nil
}

// SalesChart строит график продаж по отчёту GET /reports/sales.
func (s *Service) SalesChart(ctx context.Context, r domain.DateRange) (Chart, error) {
	if err := r.Validate(); err != nil {
		return Chart{}, err
	}
	if s.reports == nil {
		summary, err := s.Summary(ctx, r)
		if err != nil {
			return Chart{}, err
		}
		return SummarizeSales(summary), nil
	}

	v, err, _ := s.shared(ctx, "sales:"+r.Key(), func(loadCtx context.Context) (any, error) {
		return s.reports.SalesReport(loadCtx, r)
	})
	if err != nil {
		return Chart{}, err
	}
	return salesChart(v.(domain.SalesByDate), s.currency), nil
}

// shared выполняет загрузку один раз на все одновременные запросы с тем же ключом.
// Загрузка идёт на контексте без отмены вызывающего: отменённый запрос перестаёт
// ждать, но не обрывает результат для остальных.
func (s *Service) shared(ctx context.Context, key string, load func(context.Context) (any, error)) (any, error, bool) {
	ch := s.sfg.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return load(loadCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err, res.Shared
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}
