package service

import (
	"context"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiredCancelsUnpaidOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unpaid := f.createTransferOrder(t)
	paid := f.createTransferOrder(t)
	cod, err := f.orders.CreateOrder(ctx, buyer, validRequest(models.PaymentMethodCOD))
	require.NoError(t, err)

	_, err = f.recon.HandleNotification(ctx, transfer(paid.Order.PaymentCode, 250000, "p"))
	require.NoError(t, err)
	f.notifier.Wait()

	all := f.subscribe(t, notify.AllOrders)

	ids, err := f.expiry.SweepExpired(ctx, t0.Add(14*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = f.expiry.SweepExpired(ctx, t0.Add(16*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int64{unpaid.Order.ID}, ids)

	order, err := f.store.GetOrderByID(ctx, unpaid.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, models.PaymentStatusFailed, order.PaymentStatus)
	require.NotNil(t, order.CancelledAt)

	attempt, err := f.store.GetPaymentAttemptByOrderID(ctx, unpaid.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusFailed, attempt.Status)

	for _, id := range []int64{paid.Order.ID, cod.Order.ID} {
		o, err := f.store.GetOrderByID(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, models.OrderStatusCancelled, o.Status)
	}

	ev := nextEvent(t, all)
	assert.Equal(t, unpaid.Order.ID, ev.OrderID)
	assert.Equal(t, models.OrderStatusCancelled, ev.Status)
	assert.Equal(t, models.SourceExpiry, ev.Source)

	// a late transfer for the expired order is retained, not applied
	res, err := f.recon.HandleNotification(ctx, transfer(unpaid.Order.PaymentCode, 250000, "late"))
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadyFinalized, res.Reason)

	ids, err = f.expiry.SweepExpired(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)
}
