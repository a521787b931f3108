package sales

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
)

// SubmitResult — итог SubmitOrder: либо подтверждённый заказ, либо отложенный.
type SubmitResult struct {
	Order   *domain.OrderConfirmation `json:"order,omitempty"`
	Pending *domain.PendingOrder      `json:"pending,omitempty"`
}

// SyncReport — итог SyncPendingOrders.
type SyncReport struct {
	Synced    int                        `json:"synced"`
	Failed    int                        `json:"failed"`
	Remaining int                        `json:"remaining"`
	Orders    []domain.OrderConfirmation `json:"orders"`
}

type submission struct {
	cartID     string
	key        string
	request    domain.OrderRequest
	subtotal   string
	itemsCount int
}

// SubmitOrder отправляет активную корзину. Снимок позиций берётся под
// блокировкой до сетевого вызова; сам вызов не прерывается отменой ctx.
// Если backend не подтвердил продажу, она сохраняется как отложенный заказ,
// корзина остаётся нетронутой, а ошибка оборачивает ErrOrderQueued.
func (m *Manager) SubmitOrder(ctx context.Context) (SubmitResult, error) {
	sub, err := m.snapshotActive()
	if err != nil {
		m.metrics.RecordSubmission(metrics.SubmitRejected)
		return SubmitResult{}, m.fail("submit_order", err)
	}

	logger := m.logger.WithFields(log.Fields{
		"cart_id":  sub.cartID,
		"sale_key": sub.key,
	})

	conf, err := m.createOrder(ctx, sub.key, sub.request)
	if err != nil {
		return m.queue(ctx, sub, err, logger)
	}

	m.clearSubmitted(ctx, sub.cartID, sub.key, sub.request)
	if delErr := m.pending.Delete(ctx, sub.key); delErr != nil {
		logger.WithError(delErr).Warn("failed to drop pending order after submission")
	}
	m.refreshPendingGauge(ctx)

	m.enqueueEvent(domain.SaleEvent{
		EventType:     domain.SaleEventCompleted,
		SubmissionKey: sub.key,
		CartID:        sub.cartID,
		OrderID:       conf.ID,
		OrderNumber:   conf.Number,
		Subtotal:      sub.subtotal,
		ItemsCount:    sub.itemsCount,
		Timestamp:     m.now(),
	})
	m.metrics.RecordSubmission(metrics.SubmitCompleted)
	m.notify(domain.NotificationInfo, fmt.Sprintf("Order #%s created", conf.Number), nil)

	logger.WithField("order_id", conf.ID).Info("order submitted")
	return SubmitResult{Order: &conf}, nil
}

func (m *Manager) snapshotActive() (submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[m.activeID]
	if !ok || cart.IsEmpty() {
		return submission{}, domain.ErrCartEmpty
	}
	req, err := cart.OrderRequest()
	if err != nil {
		return submission{}, err
	}
	if cart.SubmissionKey == "" {
		// корзина из старого хранилища без ключа
		cart.SubmissionKey = m.newKey()
		m.carts[cart.ID] = cart
	}
	return submission{
		cartID:     cart.ID,
		key:        cart.SubmissionKey,
		request:    req.Clone(),
		subtotal:   cart.FormattedSubtotal(),
		itemsCount: cart.ItemsCount(),
	}, nil
}

// createOrder вызывает backend на контексте, отвязанном от отмены вызывающего.
func (m *Manager) createOrder(ctx context.Context, key string, req domain.OrderRequest) (domain.OrderConfirmation, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.submitTimeout)
	defer cancel()
	return m.orders.CreateOrder(callCtx, key, req)
}

func (m *Manager) queue(ctx context.Context, sub submission, cause error, logger *log.Entry) (SubmitResult, error) {
	now := m.now()
	order := domain.PendingOrder{
		ID:        sub.key,
		CartID:    sub.cartID,
		Request:   sub.request,
		Subtotal:  sub.subtotal,
		Attempts:  1,
		LastError: cause.Error(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := m.pending.Get(ctx, sub.key); err == nil {
		order.Attempts = existing.Attempts + 1
		order.CreatedAt = existing.CreatedAt
	}

	if err := m.pending.Upsert(ctx, order); err != nil {
		logger.WithError(err).Error("failed to store pending order")
		m.metrics.RecordSubmission(metrics.SubmitRejected)
		return SubmitResult{}, m.fail("submit_order", fmt.Errorf("store pending order: %w (submit error: %v)", err, cause))
	}
	m.refreshPendingGauge(ctx)

	m.enqueueEvent(domain.SaleEvent{
		EventType:     domain.SaleEventQueued,
		SubmissionKey: sub.key,
		CartID:        sub.cartID,
		Subtotal:      sub.subtotal,
		ItemsCount:    sub.itemsCount,
		Attempts:      order.Attempts,
		Error:         cause.Error(),
		Timestamp:     now,
	})
	m.metrics.RecordSubmission(metrics.SubmitQueued)

	logger.WithError(cause).WithField("attempts", order.Attempts).Warn("order saved as pending")

	var fields map[string]string
	var verr *domain.ValidationError
	if errors.As(cause, &verr) {
		fields = verr.Fields
	}
	m.notify(domain.NotificationWarning, "Order saved as pending: "+cause.Error(), fields)

	return SubmitResult{Pending: &order}, fmt.Errorf("%w: %w", ErrOrderQueued, cause)
}

// SyncPendingOrders повторно отправляет отложенные заказы от старых к новым.
// Заказ удаляется только после подтверждения backend; неудачные остаются
// с увеличенным Attempts. Отмена ctx останавливает обход между заказами.
func (m *Manager) SyncPendingOrders(ctx context.Context) (SyncReport, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	report := SyncReport{Orders: []domain.OrderConfirmation{}}

	orders, err := m.pending.List(ctx)
	if err != nil {
		return report, m.fail("sync_pending", err)
	}

	for i, order := range orders {
		if ctx.Err() != nil {
			report.Remaining += len(orders) - i
			break
		}

		logger := m.logger.WithFields(log.Fields{
			"sale_key": order.ID,
			"cart_id":  order.CartID,
		})

		conf, err := m.createOrder(ctx, order.ID, order.Request)
		if err != nil {
			report.Failed++
			report.Remaining++
			m.metrics.RecordPendingSync(metrics.SyncFailed)

			order.Attempts++
			order.LastError = err.Error()
			order.UpdatedAt = m.now()
			if upErr := m.pending.Upsert(ctx, order); upErr != nil {
				logger.WithError(upErr).Warn("failed to update pending order")
			}
			logger.WithError(err).WithField("attempts", order.Attempts).Warn("pending order sync failed")
			continue
		}

		if err := m.pending.Delete(ctx, order.ID); err != nil {
			logger.WithError(err).Warn("failed to delete synced pending order")
		}
		m.clearSubmitted(ctx, order.CartID, order.ID, order.Request)

		report.Synced++
		report.Orders = append(report.Orders, conf)
		m.metrics.RecordPendingSync(metrics.SyncSynced)
		m.enqueueEvent(domain.SaleEvent{
			EventType:     domain.SaleEventPendingSynced,
			SubmissionKey: order.ID,
			CartID:        order.CartID,
			OrderID:       conf.ID,
			OrderNumber:   conf.Number,
			Subtotal:      order.Subtotal,
			Attempts:      order.Attempts + 1,
			Timestamp:     m.now(),
		})
		logger.WithField("order_id", conf.ID).Info("pending order synced")
	}
	m.refreshPendingGauge(ctx)

	switch {
	case report.Failed > 0:
		m.notify(domain.NotificationWarning,
			fmt.Sprintf("%d pending orders synced, %d still pending", report.Synced, report.Failed), nil)
	case report.Synced > 0:
		m.notify(domain.NotificationInfo, fmt.Sprintf("%d pending orders synced", report.Synced), nil)
	}
	return report, nil
}
