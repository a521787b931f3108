package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const defaultNotificationCapacity = 100

// NotificationLog — кольцевой буфер уведомлений кассира. При переполнении
// вытесняются самые старые.
type NotificationLog struct {
	mu       sync.Mutex
	items    []domain.Notification
	capacity int
}

// NewNotificationLog создаёт буфер на capacity уведомлений (100 по умолчанию).
func NewNotificationLog(capacity int) *NotificationLog {
	if capacity <= 0 {
		capacity = defaultNotificationCapacity
	}
	return &NotificationLog{
		items:    make([]domain.Notification, 0, capacity),
		capacity: capacity,
	}
}

// Notify добавляет уведомление.
func (l *NotificationLog) Notify(n domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.items) >= l.capacity {
		copy(l.items, l.items[1:])
		l.items = l.items[:len(l.items)-1]
	}
	l.items = append(l.items, n)
}

// Drain возвращает накопленные уведомления от старых к новым и очищает буфер.
func (l *NotificationLog) Drain() []domain.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := append([]domain.Notification{}, l.items...)
	l.items = l.items[:0]
	return out
}

// Peek возвращает копию уведомлений без очистки.
func (l *NotificationLog) Peek() []domain.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]domain.Notification{}, l.items...)
}

var _ domain.Notifier = (*NotificationLog)(nil)
