package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func newPending(id string, createdAt time.Time) domain.PendingOrder {
	return domain.PendingOrder{
		ID:     id,
		CartID: "cart-1",
		Request: domain.OrderRequest{
			PaymentMethod: "cash",
			LineItems:     []domain.OrderLineItem{{ProductID: 1, Quantity: 2}},
		},
		Attempts:  1,
		CreatedAt: createdAt,
	}
}

func TestPendingOrderRepository_UpsertDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPendingOrderRepository()
	created := time.Now().UTC().Add(-time.Minute)

	if err := repo.Upsert(ctx, newPending("key-1", created)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	retry := newPending("key-1", time.Now().UTC())
	retry.Attempts = 2
	retry.LastError = "backend down"
	if err := repo.Upsert(ctx, retry); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	orders, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 pending order, got %d", len(orders))
	}
	if orders[0].Attempts != 2 || orders[0].LastError != "backend down" {
		t.Fatalf("expected updated record, got %+v", orders[0])
	}
	if !orders[0].CreatedAt.Equal(created) {
		t.Fatalf("expected CreatedAt preserved, got %v", orders[0].CreatedAt)
	}
}

func TestPendingOrderRepository_ListOrderAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPendingOrderRepository()
	now := time.Now().UTC()

	_ = repo.Upsert(ctx, newPending("new", now))
	_ = repo.Upsert(ctx, newPending("old", now.Add(-time.Hour)))

	orders, _ := repo.List(ctx)
	if len(orders) != 2 || orders[0].ID != "old" {
		t.Fatalf("expected oldest first, got %+v", orders)
	}

	if err := repo.Delete(ctx, "old"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, "old"); !errors.Is(err, domain.ErrPendingOrderNotFound) {
		t.Fatalf("expected ErrPendingOrderNotFound, got %v", err)
	}
	if _, err := repo.Get(ctx, "new"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if err := repo.Upsert(ctx, domain.PendingOrder{}); !errors.Is(err, domain.ErrPendingOrderIDRequired) {
		t.Fatalf("expected ErrPendingOrderIDRequired, got %v", err)
	}
}
