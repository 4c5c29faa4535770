package worker

import (
	"context"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Reconciler applies a payment notification
type Reconciler interface {
	HandleNotification(ctx context.Context, n payment.Notification) (*service.Result, error)
}

// NotificationWorker reconciles payment notifications relayed over Kafka
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	reconciler   Reconciler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, reconciler Reconciler) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		reconciler:   reconciler,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnPaymentNotification(w.handle)
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker...")
	return w.consumer.Close()
}

// handle fails only on storage errors so the message is not committed
func (w *NotificationWorker) handle(ctx context.Context, event *models.PaymentNotificationEvent) error {
	n, err := payment.ParseNotification(event.Provider, event.Payload)
	if err != nil {
		w.logger.Error("Dropping unparseable payment notification",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return nil
	}

	res, err := w.reconciler.HandleNotification(ctx, n)
	if err != nil {
		return err
	}

	w.logger.Info("Relayed payment notification reconciled",
		zap.String("event_id", event.EventID),
		zap.String("outcome", string(res.Outcome)),
		zap.String("reason", res.Reason),
		zap.Int64("order_id", res.OrderID))
	return nil
}

// Sweeper cancels orders whose payment window has passed
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) ([]int64, error)
}

// Locker elects one replica per sweep
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*redisclient.Lock, error)
	ReleaseLock(ctx context.Context, lock *redisclient.Lock) error
}

const expiryLockKey = "expiry-sweep"

// ExpiryWorker runs the expiry sweep on a fixed interval
type ExpiryWorker struct {
	sweeper  Sweeper
	locker   Locker
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewExpiryWorker creates a sweep loop; locker may be nil for a single replica
func NewExpiryWorker(sweeper Sweeper, locker Locker, interval time.Duration) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryWorker{
		sweeper:  sweeper,
		locker:   locker,
		interval: interval,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Start sweeps immediately and then on every tick until ctx is done
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting expiry worker...", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.SweepOnce(ctx); err != nil {
			w.logger.Error("Expiry sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Stopping expiry worker...")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce runs one sweep, skipping it when another replica holds the lock
func (w *ExpiryWorker) SweepOnce(ctx context.Context) ([]int64, error) {
	if w.locker != nil {
		lock, err := w.locker.AcquireLock(ctx, expiryLockKey, w.interval)
		if err != nil {
			return nil, err
		}
		if lock == nil {
			w.logger.Debug("Expiry sweep held by another replica")
			return nil, nil
		}
		defer func() {
			if err := w.locker.ReleaseLock(context.Background(), lock); err != nil {
				w.logger.Warn("Failed to release expiry lock", zap.Error(err))
			}
		}()
	}

	return w.sweeper.SweepExpired(ctx, w.now())
}
