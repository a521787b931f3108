package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты отправки продажи.
const (
	SubmitCompleted = "completed"
	SubmitQueued    = "queued"
	SubmitRejected  = "rejected"
)

// Результаты синхронизации отложенного заказа.
const (
	SyncSynced = "synced"
	SyncFailed = "failed"
)

// SalesMetrics содержит метрики кассовых сессий.
// Все методы безопасны для nil-получателя.
type SalesMetrics struct {
	orderSubmissions *prometheus.CounterVec
	pendingSyncs     *prometheus.CounterVec
	pendingOrders    prometheus.Gauge
	activeCarts      prometheus.Gauge

	backendDuration *prometheus.HistogramVec
	breakerOpen     prometheus.Gauge

	outboxEvents      prometheus.Counter
	dashboardRequests *prometheus.CounterVec

	idempotencyCleanups *prometheus.CounterVec
	idempotencyDeleted  prometheus.Counter
}

// NewSalesMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewSalesMetrics() *SalesMetrics {
	return NewSalesMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSalesMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация переиспользует уже созданные коллекторы.
func NewSalesMetricsWithRegisterer(registerer prometheus.Registerer) *SalesMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SalesMetrics{
		orderSubmissions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_order_submissions_total",
			Help: "Total number of order submissions grouped by result",
		}, []string{"result"}),
		pendingSyncs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_pending_sync_total",
			Help: "Total number of pending order resubmissions grouped by result",
		}, []string{"result"}),
		pendingOrders: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_pending_orders",
			Help: "Number of orders waiting for resubmission",
		}),
		activeCarts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_carts",
			Help: "Number of carts held by the sales session manager",
		}),
		backendDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pos_backend_request_duration_seconds",
			Help:    "Duration of backend REST calls in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"operation", "result"}),
		breakerOpen: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_backend_circuit_open",
			Help: "1 when the backend circuit breaker is open",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_outbox_events_total",
			Help: "Total number of sale events enqueued to outbox",
		}),
		dashboardRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_dashboard_requests_total",
			Help: "Total number of dashboard queries grouped by result",
		}, []string{"result"}),
		idempotencyCleanups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"}),
		idempotencyDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordSubmission учитывает результат SubmitOrder.
func (m *SalesMetrics) RecordSubmission(result string) {
	if m == nil {
		return
	}
	m.orderSubmissions.WithLabelValues(result).Inc()
}

// RecordPendingSync учитывает результат повторной отправки одного заказа.
func (m *SalesMetrics) RecordPendingSync(result string) {
	if m == nil {
		return
	}
	m.pendingSyncs.WithLabelValues(result).Inc()
}

// SetPendingOrders выставляет размер очереди отложенных заказов.
func (m *SalesMetrics) SetPendingOrders(n int) {
	if m == nil {
		return
	}
	m.pendingOrders.Set(float64(n))
}

// SetCarts выставляет число корзин в сессии.
func (m *SalesMetrics) SetCarts(n int) {
	if m == nil {
		return
	}
	m.activeCarts.Set(float64(n))
}

// ObserveBackendCall записывает длительность запроса к backend.
func (m *SalesMetrics) ObserveBackendCall(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.backendDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// SetCircuitOpen отражает состояние circuit breaker.
func (m *SalesMetrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
		return
	}
	m.breakerOpen.Set(0)
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *SalesMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordDashboardRequest учитывает запрос дашборда; shared — результат получен
// из уже выполняющегося запроса.
func (m *SalesMetrics) RecordDashboardRequest(err error, shared bool) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.dashboardRequests.WithLabelValues("error").Inc()
	case shared:
		m.dashboardRequests.WithLabelValues("shared").Inc()
	default:
		m.dashboardRequests.WithLabelValues("ok").Inc()
	}
}

// RecordIdempotencyCleanup учитывает один проход очистки ключей идемпотентности.
func (m *SalesMetrics) RecordIdempotencyCleanup(deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.idempotencyCleanups.WithLabelValues("error").Inc()
		return
	}
	m.idempotencyCleanups.WithLabelValues("ok").Inc()
	m.idempotencyDeleted.Add(float64(deleted))
}
