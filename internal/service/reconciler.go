package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Outcome of reconciling one notification
type Outcome string

const (
	OutcomeMatched Outcome = "matched"
	OutcomeIgnored Outcome = "ignored"
)

// Reasons a notification is ignored
const (
	ReasonNoMatch          = "no_match"
	ReasonAlreadyFinalized = "already_finalized"
	ReasonDuplicate        = "duplicate"
	ReasonOutgoing         = "outgoing_transfer"
)

// Result is the definite answer returned to the provider
type Result struct {
	Outcome   Outcome
	Reason    string
	OrderID   int64
	PaymentID int64
}

func ignored(reason string) *Result {
	return &Result{Outcome: OutcomeIgnored, Reason: reason}
}

// IdempotencyGuard remembers notifications that already produced an outcome
type IdempotencyGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string, outcome string) error
}

// RedisGuard keeps idempotency keys in Redis for ttl
type RedisGuard struct {
	client *redisclient.Client
	ttl    time.Duration
}

// NewRedisGuard creates a Redis-backed guard
func NewRedisGuard(client *redisclient.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	return g.client.CheckIdempotencyKey(ctx, key)
}

func (g *RedisGuard) Remember(ctx context.Context, key string, outcome string) error {
	return g.client.SetIdempotencyKey(ctx, key, outcome, g.ttl)
}

// errAlreadyFinalized aborts the unit of work when another writer won the race
var errAlreadyFinalized = errors.New("payment already finalized")

// Reconciler turns provider notifications into order state transitions
type Reconciler struct {
	store    store.Store
	codec    *payment.Codec
	notifier *Notifier
	guard    IdempotencyGuard
	now      func() time.Time
	logger   *zap.Logger
}

// NewReconciler creates a reconciler; guard may be nil
func NewReconciler(st store.Store, codec *payment.Codec, notifier *Notifier, guard IdempotencyGuard) *Reconciler {
	return &Reconciler{
		store:    st,
		codec:    codec,
		notifier: notifier,
		guard:    guard,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// HandleNotification applies n at most once. Everything except a storage
// failure is a definite outcome; ignored notifications are not errors.
func (r *Reconciler) HandleNotification(ctx context.Context, n payment.Notification) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleNotification")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconcileLatency.Observe(time.Since(start).Seconds())
	}()

	key := n.IdempotencyKey()
	if r.seen(ctx, key) {
		return r.finish(ctx, n, "", ignored(ReasonDuplicate)), nil
	}

	if n.Direction == payment.DirectionOut {
		return r.finish(ctx, n, key, ignored(ReasonOutgoing)), nil
	}

	codes := r.codec.Extract(n.Narration)
	paidAt := r.now().UTC()

	var (
		res     *Result
		order   models.Order
		attempt models.PaymentAttempt
	)

	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		matched, finalized, err := r.match(ctx, tx, codes)
		if err != nil {
			return err
		}
		if matched == nil {
			if finalized {
				return errAlreadyFinalized
			}
			res = ignored(ReasonNoMatch)
			return r.retain(ctx, tx, n, ReasonNoMatch)
		}

		// the order row is always locked before its attempt
		locked, err := tx.GetOrderForUpdate(ctx, matched.OrderID)
		if err != nil {
			return err
		}

		won, err := tx.SettleAttempt(ctx, store.AttemptSettlement{
			AttemptID:       matched.ID,
			To:              models.AttemptStatusPaid,
			PaidAt:          &paidAt,
			NotificationKey: key,
			RawPayload:      n.Raw,
		})
		if err != nil {
			return err
		}
		if !won {
			return errAlreadyFinalized
		}

		moved, err := tx.TransitionOrder(ctx, store.OrderTransition{
			OrderID:       locked.ID,
			From:          models.OrderStatusPendingPayment,
			To:            models.OrderStatusPaid,
			PaymentStatus: models.PaymentStatusPaid,
			PaidAt:        &paidAt,
		})
		if err != nil {
			return err
		}
		if !moved {
			return errAlreadyFinalized
		}

		lines, err := tx.GetLineSnapshots(ctx, locked.ID)
		if err != nil {
			return err
		}
		ids := make([]int64, len(lines))
		for i, l := range lines {
			ids[i] = l.ProductID
		}
		if _, err := tx.DeleteCartLines(ctx, locked.UserID, ids); err != nil {
			return err
		}

		order = *locked
		order.Status = models.OrderStatusPaid
		order.PaymentStatus = models.PaymentStatusPaid
		order.PaidAt = &paidAt
		attempt = *matched
		attempt.Status = models.AttemptStatusPaid
		attempt.PaidAt = &paidAt
		attempt.NotificationKey = key
		res = &Result{Outcome: OutcomeMatched, OrderID: order.ID, PaymentID: attempt.ID}
		return nil
	})

	if errors.Is(err, errAlreadyFinalized) {
		return r.finalized(ctx, n, key, codes), nil
	}
	if err != nil {
		util.RecordError(span, err)
		util.WebhookNotificationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to reconcile notification: %w", err)
	}

	if res.Outcome == OutcomeMatched {
		r.checkAmount(order, attempt, n)
		util.OrdersPaidTotal.WithLabelValues(models.SourceWebhook).Inc()
		r.logger.Info("Order paid",
			zap.Int64("order_id", order.ID),
			zap.Int64("payment_id", attempt.ID),
			zap.String("provider_ref", n.ProviderRef))
		r.notifier.OrderPaid(order, attempt, n.Amount, n.ProviderRef, models.SourceWebhook)
	}
	return r.finish(ctx, n, key, res), nil
}

// match returns the first PENDING attempt named by a candidate code;
// finalized reports whether some candidate named an already settled attempt.
func (r *Reconciler) match(ctx context.Context, tx store.Tx, codes []string) (*models.PaymentAttempt, bool, error) {
	finalized := false
	for _, code := range codes {
		attempt, err := r.lookup(ctx, tx, code)
		if err != nil {
			return nil, false, err
		}
		if attempt == nil {
			continue
		}
		if attempt.Status.Terminal() {
			finalized = true
			continue
		}
		return attempt, false, nil
	}
	return nil, finalized, nil
}

// lookup loads the attempt a code refers to, nil unless its stored code is exactly code
func (r *Reconciler) lookup(ctx context.Context, tx store.Tx, code string) (*models.PaymentAttempt, error) {
	id, err := r.codec.Parse(code)
	if err != nil {
		return nil, nil
	}
	attempt, err := tx.GetPaymentAttempt(ctx, id)
	if err != nil || attempt == nil || attempt.Code != code {
		return nil, err
	}
	return attempt, nil
}

// finalized answers a notification whose attempt is no longer pending. A
// redelivery of the notification that settled it is a duplicate; any other
// money is retained for manual review.
func (r *Reconciler) finalized(ctx context.Context, n payment.Notification, key string, codes []string) *Result {
	reason := ReasonAlreadyFinalized
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		if key != "" {
			for _, code := range codes {
				attempt, err := r.lookup(ctx, tx, code)
				if err != nil {
					return err
				}
				if attempt != nil && attempt.NotificationKey == key {
					reason = ReasonDuplicate
					return nil
				}
			}
		}
		return r.retain(ctx, tx, n, ReasonAlreadyFinalized)
	})
	if err != nil {
		r.logger.Error("Failed to retain finalized notification", zap.Error(err))
	}
	return r.finish(ctx, n, key, ignored(reason))
}

func (r *Reconciler) retain(ctx context.Context, tx store.Tx, n payment.Notification, reason string) error {
	return tx.InsertUnmatchedNotification(ctx, &models.UnmatchedNotification{
		Provider:    n.Provider,
		ProviderRef: n.ProviderRef,
		Narration:   n.Narration,
		Amount:      n.Amount,
		Reason:      reason,
		RawPayload:  n.Raw,
	})
}

func (r *Reconciler) checkAmount(order models.Order, attempt models.PaymentAttempt, n payment.Notification) {
	cmp := n.Amount.Cmp(attempt.Amount)
	if cmp == 0 {
		return
	}
	direction := "over"
	if cmp < 0 {
		direction = "under"
	}
	util.PaymentAmountMismatchTotal.WithLabelValues(direction).Inc()
	r.logger.Warn("Payment amount mismatch",
		zap.Int64("order_id", order.ID),
		zap.String("expected", attempt.Amount.StringFixed(2)),
		zap.String("reported", n.Amount.StringFixed(2)),
		zap.String("direction", direction))
}

func (r *Reconciler) seen(ctx context.Context, key string) bool {
	if r.guard == nil || key == "" {
		return false
	}
	ok, err := r.guard.Seen(ctx, key)
	if err != nil {
		r.logger.Warn("Idempotency check failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// finish records the outcome; key is "" when it must not be remembered
func (r *Reconciler) finish(ctx context.Context, n payment.Notification, key string, res *Result) *Result {
	label := string(res.Outcome)
	if res.Reason != "" {
		label = res.Reason
	}
	util.WebhookNotificationsTotal.WithLabelValues(label).Inc()

	if res.Outcome == OutcomeIgnored {
		r.logger.Info("Payment notification ignored",
			zap.String("provider", n.Provider),
			zap.String("provider_ref", n.ProviderRef),
			zap.String("reason", res.Reason))
	}

	if r.guard != nil && key != "" {
		if err := r.guard.Remember(ctx, key, label); err != nil {
			r.logger.Warn("Failed to remember notification", zap.String("key", key), zap.Error(err))
		}
	}
	return res
}
