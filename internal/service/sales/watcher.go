package sales

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// PendingSyncer — то, что умеет повторно отправить отложенные заказы.
type PendingSyncer interface {
	SyncPendingOrders(ctx context.Context) (SyncReport, error)
}

// ReconnectWatcher проверяет доступность backend и запускает синхронизацию
// отложенных заказов только при переходе offline -> online. Таймерных повторов
// самих заказов нет.
type ReconnectWatcher struct {
	pinger   domain.Pinger
	syncer   PendingSyncer
	interval time.Duration
	timeout  time.Duration
	logger   *log.Entry

	mu     sync.Mutex
	online bool
}

// NewReconnectWatcher создаёт watcher. Стартовое состояние — online.
func NewReconnectWatcher(pinger domain.Pinger, syncer PendingSyncer, interval time.Duration, logger *log.Entry) *ReconnectWatcher {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger == nil {
		logger = log.WithField("component", "reconnect-watcher")
	}
	return &ReconnectWatcher{
		pinger:   pinger,
		syncer:   syncer,
		interval: interval,
		timeout:  defaultProbeTimeout,
		logger:   logger,
		online:   true,
	}
}

// Online сообщает результат последней проверки.
func (w *ReconnectWatcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Run проверяет backend каждые interval до отмены ctx.
func (w *ReconnectWatcher) Run(ctx context.Context) {
	if w.pinger == nil || w.syncer == nil {
		w.logger.Warn("reconnect watcher is disabled: pinger or syncer is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check выполняет одну проверку и возвращает true, если была запущена синхронизация.
func (w *ReconnectWatcher) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.pinger.Ping(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return false
	}

	// 401/403/404 тоже означают, что backend отвечает.
	online := err == nil || !domain.IsTransient(err)

	w.mu.Lock()
	reconnected := online && !w.online
	changed := online != w.online
	w.online = online
	w.mu.Unlock()

	if changed && !online {
		w.logger.WithError(err).Warn("backend went offline")
	}
	if !reconnected {
		return false
	}

	w.logger.Info("backend is back online, syncing pending orders")
	report, syncErr := w.syncer.SyncPendingOrders(ctx)
	if syncErr != nil {
		w.logger.WithError(syncErr).Warn("pending order sync failed")
		return true
	}
	w.logger.WithFields(log.Fields{
		"synced": report.Synced,
		"failed": report.Failed,
	}).Info("pending order sync finished")
	return true
}
