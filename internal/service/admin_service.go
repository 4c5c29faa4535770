package service

import (
	"context"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// AdminService applies staff overrides to orders
type AdminService struct {
	store    store.Store
	notifier *Notifier
	now      func() time.Time
	logger   *zap.Logger
}

// NewAdminService creates a new admin service
func NewAdminService(st store.Store, notifier *Notifier) *AdminService {
	return &AdminService{
		store:    st,
		notifier: notifier,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// ForceStatus moves an order to status on behalf of an operator. PAID and
// CANCELLED are accepted from any live status; fulfilment steps only forward.
func (s *AdminService) ForceStatus(ctx context.Context, orderID int64, to models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.ForceStatus")
	defer span.End()

	if !to.Valid() {
		return nil, apperr.Validation("unknown order status %q", to)
	}

	var (
		result  models.Order
		from    models.OrderStatus
		changed bool
	)

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status

		if order.Status.Terminal() {
			return apperr.Inconsistent("order %d is %s and can no longer change", orderID, order.Status)
		}
		if order.Status == to {
			result = *order
			return nil
		}
		if to != models.OrderStatusPaid && !order.Status.CanTransition(to) {
			return apperr.Inconsistent("order %d cannot move from %s to %s", orderID, order.Status, to)
		}

		now := s.now().UTC()
		t := store.OrderTransition{OrderID: orderID, From: order.Status, To: to}
		switch to {
		case models.OrderStatusPaid:
			t.PaidAt = &now
			t.PaymentStatus = models.PaymentStatusPaid
		case models.OrderStatusCancelled:
			t.CancelledAt = &now
			if order.PaymentStatus == models.PaymentStatusPending {
				t.PaymentStatus = models.PaymentStatusFailed
			}
		}

		moved, err := tx.TransitionOrder(ctx, t)
		if err != nil {
			return err
		}
		if !moved {
			return apperr.Inconsistent("order %d changed concurrently", orderID)
		}

		if err := s.syncAttempt(ctx, tx, orderID, to, now); err != nil {
			return err
		}

		result = *order
		result.Status = to
		if t.PaymentStatus != "" {
			result.PaymentStatus = t.PaymentStatus
		}
		if t.PaidAt != nil {
			result.PaidAt = t.PaidAt
		}
		if t.CancelledAt != nil {
			result.CancelledAt = t.CancelledAt
		}
		result.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if !changed {
		return &result, nil
	}

	util.OrderStatusOverridesTotal.WithLabelValues(string(to)).Inc()
	switch to {
	case models.OrderStatusPaid:
		util.OrdersPaidTotal.WithLabelValues(models.SourceAdmin).Inc()
	case models.OrderStatusCancelled:
		util.OrdersCancelledTotal.WithLabelValues(models.SourceAdmin).Inc()
	}
	s.logger.Info("Order status overridden",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	s.notifier.StatusChanged(orderID, from, to, models.SourceAdmin)

	return &result, nil
}

// syncAttempt settles a still PENDING attempt to match the forced status
func (s *AdminService) syncAttempt(ctx context.Context, tx store.Tx, orderID int64, to models.OrderStatus, now time.Time) error {
	var (
		target models.AttemptStatus
		paidAt *time.Time
	)
	switch to {
	case models.OrderStatusPaid:
		target, paidAt = models.AttemptStatusPaid, &now
	case models.OrderStatusCancelled:
		target = models.AttemptStatusFailed
	default:
		return nil
	}

	attempt, err := tx.GetPaymentAttemptByOrderID(ctx, orderID)
	if err != nil || attempt == nil || attempt.Status.Terminal() {
		return err
	}
	_, err = tx.SettleAttempt(ctx, store.AttemptSettlement{AttemptID: attempt.ID, To: target, PaidAt: paidAt})
	return err
}

// ListUnmatched returns retained notifications for manual reconciliation
func (s *AdminService) ListUnmatched(ctx context.Context, limit int) ([]models.UnmatchedNotification, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out, err := s.store.ListUnmatchedNotifications(ctx, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.UnmatchedNotification{}
	}
	return out, nil
}
