package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func TestCleanupWorker_DeleteExpired_Batches(t *testing.T) {
	t.Parallel()

	store := &stubDeleter{results: []int{2, 2, 1}}
	worker := NewCleanupWorker(store, WithBatchSize(2))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("unexpected deleted total: got=%d want=5", deleted)
	}
	if calls := store.calls(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}
}

func TestCleanupWorker_DeleteExpired_Error(t *testing.T) {
	t.Parallel()

	store := &stubDeleter{errs: []error{errors.New("boom")}}
	worker := NewCleanupWorker(store, WithBatchSize(10))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected DeleteExpired error")
	}
	if deleted != 0 {
		t.Fatalf("unexpected deleted total: got=%d want=0", deleted)
	}
}

func TestCleanupWorker_RemovesExpiredMemoryRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, key, "hash", now.Add(-time.Minute)); err != nil {
			t.Fatalf("Reserve %s: %v", key, err)
		}
	}
	if _, err := store.Reserve(ctx, "live", "hash", now.Add(time.Hour)); err != nil {
		t.Fatalf("Reserve live: %v", err)
	}

	sm := metrics.NewSalesMetricsWithRegisterer(prometheus.NewRegistry())
	worker := NewCleanupWorker(store, WithBatchSize(2), WithMetrics(sm))

	deleted, err := worker.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("unexpected deleted total: got=%d want=3", deleted)
	}
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	store := &stubDeleter{}
	worker := NewCleanupWorker(store, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	if calls := store.calls(); calls == 0 {
		t.Fatal("expected cleanup to be called at least once")
	}
}

func TestCleanupWorker_Run_DisabledWithoutStore(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewCleanupWorker(nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without store must return immediately")
	}
}

type stubDeleter struct {
	mu sync.Mutex

	results   []int
	errs      []error
	callCount int
}

func (s *stubDeleter) DeleteExpired(context.Context, time.Time, int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(s.results) == 0 {
		return 0, nil
	}
	result := s.results[0]
	s.results = s.results[1:]
	return result, nil
}

func (s *stubDeleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}
