// Package app собирает сервис кассы: хранилища, клиента backend, менеджер
// продаж, HTTP API, фоновые воркеры и служебные серверы.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/pos/internal/backend"
	"github.com/vladislavdragonenkov/pos/internal/catalog"
	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/httpapi"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/analytics"
	"github.com/vladislavdragonenkov/pos/internal/service/idempotency"
	"github.com/vladislavdragonenkov/pos/internal/service/outbox"
	"github.com/vladislavdragonenkov/pos/internal/service/sales"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	salesMetrics := metrics.NewSalesMetrics()

	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.BackendURL,
		Token:   cfg.BackendToken,
		Timeout: cfg.BackendTimeout,
	}, backend.WithMetrics(salesMetrics), backend.WithLogger(logger.WithField("layer", "backend")))
	if err != nil {
		return fmt.Errorf("create backend client: %w", err)
	}

	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	defer closeKafka(kafkaProducer, logger)

	// Без брокера in-memory outbox только копится.
	outboxRepo := deps.outbox
	if kafkaProducer == nil && cfg.StorageDriver != StorageDriverPostgres {
		outboxRepo = nil
	}

	notifications := memory.NewNotificationLog(cfg.NotificationCapacity)
	manager, err := sales.NewManager(sales.Dependencies{
		Orders:    client,
		Customers: client,
		Pending:   deps.pending,
		Carts:     deps.carts,
		Outbox:    outboxRepo,
		Notifier:  notifications,
	},
		sales.WithLogger(logger.WithField("layer", "sales")),
		sales.WithMetrics(salesMetrics),
		sales.WithSubmitTimeout(cfg.SubmitTimeout),
	)
	if err != nil {
		return fmt.Errorf("create sales manager: %w", err)
	}
	if restored, err := manager.Restore(ctx); err != nil {
		logger.WithError(err).Warn("failed to restore carts")
	} else if restored > 0 {
		logger.WithField("carts", restored).Info("carts restored")
	}

	catalogCache := catalog.New(client, client, logger.WithField("layer", "catalog"))
	analyticsSvc := analytics.NewService(client,
		analytics.WithOrderHistory(client),
		analytics.WithMetrics(salesMetrics),
		analytics.WithDefaultCurrency(cfg.Currency),
		analytics.WithLogger(logger.WithField("layer", "analytics")),
	)

	auth, err := httpapi.NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		return err
	}
	apiHandler, err := httpapi.NewRouter(httpapi.Dependencies{
		Sales:         manager,
		Catalog:       catalogCache,
		Analytics:     analyticsSvc,
		Notifications: notifications,
		Auth:          auth,
		Idempotency:   deps.idempotency,
	}, httpapi.Options{
		RequestTimeout: cfg.RequestTimeout,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger.WithField("layer", "http"),
	})
	if err != nil {
		return fmt.Errorf("create http router: %w", err)
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	healthHandler.RegisterChecker("backend", healthcheck.NewOptionalChecker("backend", client.Ping))

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorker := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(workerCtx)
		}()
	}

	watcher := sales.NewReconnectWatcher(client, manager, cfg.ProbeInterval, logger.WithField("layer", "reconnect-watcher"))
	startWorker(watcher.Run)
	startWorker(func(ctx context.Context) {
		refreshCatalog(ctx, catalogCache, cfg.CatalogRefreshInterval, logger.WithField("layer", "catalog"))
	})
	if kafkaProducer != nil && outboxRepo != nil {
		worker := outbox.NewWorker(outboxRepo,
			kafka.NewOutboxPublisher(kafkaProducer, cfg.KafkaTopic),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
		)
		startWorker(worker.Run)
	}
	cleanup := idempotency.NewCleanupWorker(deps.idempotency,
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithMetrics(salesMetrics),
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
	)
	startWorker(cleanup.Run)

	stopBackground := func() {
		stopWorkers()
		workers.Wait()
	}

	grpcServer, healthServer := newGRPCServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopBackground()
		return fmt.Errorf("listen grpc: %w", err)
	}
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		stopBackground()
		return fmt.Errorf("listen http: %w", err)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	apiSrv := &http.Server{Handler: apiHandler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	shutdown := func() {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(apiSrv, logger)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(metricsSrv, logger)
		stopBackground()
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		shutdown()
		return ctx.Err()
	case err := <-errCh:
		shutdown()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newGRPCServer поднимает служебный gRPC: health и reflection с метриками вызовов.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	return grpcServer, healthServer
}

func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// refreshCatalog подгружает каталог сразу и затем с интервалом.
// Ошибки не фатальны: кэш дополняется и по отдельным запросам.
func refreshCatalog(ctx context.Context, cache *catalog.Cache, interval time.Duration, logger *log.Entry) {
	refresh := func() {
		if err := cache.Refresh(ctx); err != nil {
			if ctx.Err() == nil {
				logger.WithError(err).Warn("catalog refresh failed")
			}
			return
		}
		products, customers := cache.Len()
		logger.WithFields(log.Fields{"products": products, "customers": customers}).Debug("catalog refreshed")
	}

	refresh()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// startMetricsServer запускает служебный HTTP: /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
