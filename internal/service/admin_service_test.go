package service

import (
	"context"
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminCancelThenWebhookIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createTransferOrder(t)
	sub := f.subscribe(t, notify.OrderTopic(view.Order.ID))

	order, err := f.admin.ForceStatus(ctx, view.Order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, models.PaymentStatusFailed, order.PaymentStatus)
	require.NotNil(t, order.CancelledAt)
	assert.Equal(t, t0.Add(10*time.Minute), *order.CancelledAt)

	stored, err := f.store.GetOrderByID(ctx, view.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)

	attempt, err := f.store.GetPaymentAttemptByOrderID(ctx, view.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusFailed, attempt.Status)

	ev := nextEvent(t, sub)
	assert.Equal(t, models.OrderStatusCancelled, ev.Status)
	assert.Equal(t, models.SourceAdmin, ev.Source)

	res, err := f.recon.HandleNotification(ctx, transfer("DH1PAY", 250000, "late"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, ReasonAlreadyFinalized, res.Reason)

	stored, err = f.store.GetOrderByID(ctx, view.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Nil(t, stored.PaidAt)

	f.notifier.Wait()
	_, paid, changed := f.events.counts()
	assert.Zero(t, paid)
	assert.Equal(t, 1, changed)
}

func TestAdminForcePaidSettlesAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createTransferOrder(t)

	order, err := f.admin.ForceStatus(ctx, view.Order.ID, models.OrderStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	require.NotNil(t, order.PaidAt)

	attempt, err := f.store.GetPaymentAttemptByOrderID(ctx, view.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusPaid, attempt.Status)
	require.NotNil(t, attempt.PaidAt)

	res, err := f.recon.HandleNotification(ctx, transfer("DH1PAY", 250000, "after-admin"))
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadyFinalized, res.Reason)
}

func TestAdminForcePaidOnCOD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.orders.CreateOrder(ctx, buyer, validRequest(models.PaymentMethodCOD))
	require.NoError(t, err)

	order, err := f.admin.ForceStatus(ctx, view.Order.ID, models.OrderStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
}

func TestAdminTransitionRules(t *testing.T) {
	steps := []struct {
		name string
		path []models.OrderStatus
		to   models.OrderStatus
		kind apperr.Kind
	}{
		{"forward fulfilment", []models.OrderStatus{models.OrderStatusPaid}, models.OrderStatusProcessing, ""},
		{"skip ahead", nil, models.OrderStatusShipping, ""},
		{"backwards", []models.OrderStatus{models.OrderStatusPaid, models.OrderStatusShipping}, models.OrderStatusProcessing, apperr.KindInconsistent},
		{"from success", []models.OrderStatus{models.OrderStatusSuccess}, models.OrderStatusCancelled, apperr.KindInconsistent},
		{"from cancelled", []models.OrderStatus{models.OrderStatusCancelled}, models.OrderStatusPaid, apperr.KindInconsistent},
		{"unknown status", nil, models.OrderStatus("LOST"), apperr.KindValidation},
		{"cancel while shipping", []models.OrderStatus{models.OrderStatusPaid, models.OrderStatusShipping}, models.OrderStatusCancelled, ""},
	}

	for _, tc := range steps {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			view := f.createTransferOrder(t)

			for _, s := range tc.path {
				_, err := f.admin.ForceStatus(ctx, view.Order.ID, s)
				require.NoError(t, err)
			}

			order, err := f.admin.ForceStatus(ctx, view.Order.ID, tc.to)
			if tc.kind == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.to, order.Status)
				return
			}
			assert.True(t, apperr.Is(err, tc.kind), "got %v", err)
		})
	}
}

func TestAdminSameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createTransferOrder(t)

	order, err := f.admin.ForceStatus(ctx, view.Order.ID, models.OrderStatusPendingPayment)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingPayment, order.Status)

	f.notifier.Wait()
	_, _, changed := f.events.counts()
	assert.Zero(t, changed)
}

func TestAdminUnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.admin.ForceStatus(context.Background(), 404, models.OrderStatusPaid)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAdminListUnmatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none, err := f.admin.ListUnmatched(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = f.recon.HandleNotification(ctx, transfer("hello", 1, "a"))
	require.NoError(t, err)
	_, err = f.recon.HandleNotification(ctx, transfer("world", 2, "b"))
	require.NoError(t, err)

	list, err := f.admin.ListUnmatched(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "world", list[0].Narration)
}
