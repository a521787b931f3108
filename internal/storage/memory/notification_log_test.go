package memory_test

import (
	"fmt"
	"testing"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func TestNotificationLog_EvictsOldest(t *testing.T) {
	log := memory.NewNotificationLog(2)

	for i := 1; i <= 3; i++ {
		log.Notify(domain.Notification{Level: domain.NotificationError, Message: fmt.Sprintf("n%d", i)})
	}

	items := log.Peek()
	if len(items) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(items))
	}
	if items[0].Message != "n2" || items[1].Message != "n3" {
		t.Fatalf("unexpected order: %s, %s", items[0].Message, items[1].Message)
	}
	if items[0].ID == "" || items[0].CreatedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", items[0])
	}

	drained := log.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained notifications, got %d", len(drained))
	}
	if got := len(log.Peek()); got != 0 {
		t.Fatalf("expected empty log after drain, got %d", got)
	}
}
