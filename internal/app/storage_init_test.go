package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.carts == nil || deps.pending == nil || deps.outbox == nil || deps.idempotency == nil {
		t.Fatalf("memory dependencies must be initialized: %+v", deps)
	}
	if len(deps.checkers) != 0 {
		t.Fatalf("memory storage has no health checkers, got %d", len(deps.checkers))
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}

func TestInitRuntimeDependencies_RedisCarts(t *testing.T) {
	mr := miniredis.RunT(t)

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver:   StorageDriverMemory,
		CartStoreDriver: StorageDriverRedis,
		RedisAddr:       mr.Addr(),
	}, log.WithField("test", "redis-carts"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(redis) failed: %v", err)
	}
	defer deps.close(log.WithField("test", "redis-carts"))

	ctx := context.Background()
	cart := domain.NewCart("main", "sale-1", time.Now().UTC())
	if err := deps.carts.Save(ctx, cart); err != nil {
		t.Fatalf("save cart: %v", err)
	}
	carts, err := deps.carts.List(ctx)
	if err != nil || len(carts) != 1 {
		t.Fatalf("expected one cart in redis, got %v (err %v)", carts, err)
	}

	checker, ok := deps.checkers["redis"]
	if !ok {
		t.Fatal("expected redis health checker")
	}
	if check := checker.Check(ctx); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy redis, got %+v", check)
	}
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := initRuntimeDependencies(context.Background(), Config{
		CartStoreDriver: StorageDriverRedis,
		RedisAddr:       addr,
	}, log.WithField("test", "redis-down"))
	if err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}
