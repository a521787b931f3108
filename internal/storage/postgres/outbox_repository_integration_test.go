package postgres

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	generated, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "sale",
		AggregateID:   "key-1",
		EventType:     "sale.queued",
		Payload:       []byte(`{"submission_key":"key-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue without id: %v", err)
	}
	if generated.ID == "" {
		t.Fatal("expected generated id for outbox message")
	}

	fixed := domain.OutboxMessage{
		ID:            "sale-completed-key-2",
		AggregateType: "sale",
		AggregateID:   "key-2",
		EventType:     "sale.completed",
		Payload:       []byte(`{"submission_key":"key-2"}`),
	}
	if _, err := repo.Enqueue(fixed); err != nil {
		t.Fatalf("enqueue with id: %v", err)
	}
	// Повтор того же события не создаёт дубль и отдаёт сохранённую версию.
	again := fixed
	again.Payload = []byte(`{"submission_key":"other"}`)
	stored, err := repo.Enqueue(again)
	if err != nil {
		t.Fatalf("duplicate enqueue must be idempotent: %v", err)
	}
	if stored.AggregateID != "key-2" || string(stored.Payload) == string(again.Payload) {
		t.Fatalf("expected stored event, got %+v", stored)
	}

	pending, err := repo.PullPending(0)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending messages, got %d", len(pending))
	}
	if pending[0].ID != generated.ID {
		t.Fatalf("expected oldest message first, got %s", pending[0].ID)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 2 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.PendingByType["sale.queued"] != 1 || stats.PendingByType["sale.completed"] != 1 {
		t.Fatalf("unexpected breakdown by event type: %+v", stats.PendingByType)
	}

	if err := repo.MarkSent(generated.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(fixed.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	after, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending after marks: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("expected no pending after marks, got %d", len(after))
	}
}

func TestOutboxRepository_PostgresMissingRows(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	if err := repo.MarkSent("missing-outbox"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish on mark sent missing id, got %v", err)
	}
	if err := repo.MarkFailed("missing-outbox"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish on mark failed missing id, got %v", err)
	}
}
