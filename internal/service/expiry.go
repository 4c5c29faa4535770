package service

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// ExpiryService cancels bank transfer orders whose payment window has passed
type ExpiryService struct {
	store    store.Store
	notifier *Notifier
	logger   *zap.Logger
}

// NewExpiryService creates a new expiry service
func NewExpiryService(st store.Store, notifier *Notifier) *ExpiryService {
	return &ExpiryService{store: st, notifier: notifier, logger: util.GetLogger()}
}

// SweepExpired cancels every PENDING_PAYMENT order with expiresAt before now
// and fails its pending attempt. It returns the cancelled order ids.
func (s *ExpiryService) SweepExpired(ctx context.Context, now time.Time) ([]int64, error) {
	ctx, span := util.StartSpan(ctx, "ExpiryService.SweepExpired")
	defer span.End()

	var ids []int64
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.CancelExpiredOrders(ctx, now.UTC())
		if err != nil {
			return err
		}
		_, err = tx.FailPendingAttempts(ctx, ids)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to sweep expired orders: %w", err)
	}

	for _, id := range ids {
		s.notifier.StatusChanged(id, models.OrderStatusPendingPayment, models.OrderStatusCancelled, models.SourceExpiry)
	}
	if len(ids) > 0 {
		util.OrdersCancelledTotal.WithLabelValues(models.SourceExpiry).Add(float64(len(ids)))
		s.logger.Info("Expired orders cancelled", zap.Int("count", len(ids)), zap.Int64s("order_ids", ids))
	}
	return ids, nil
}
