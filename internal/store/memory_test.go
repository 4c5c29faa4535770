package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 7, 25, 14, 0, 0, 0, time.UTC)

func newMemory(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	s.now = func() time.Time { return t0 }
	s.PutProduct(models.Product{ID: 1, SKU: "TEA-1", Name: "Green tea", Price: decimal.NewFromInt(100000), Active: true})
	return s
}

// seedOrder commits a pending bank transfer order with one attempt
func seedOrder(t *testing.T, s *MemoryStore, code string, expiresAt time.Time) (models.Order, models.PaymentAttempt) {
	t.Helper()
	var (
		order   models.Order
		attempt models.PaymentAttempt
	)
	err := s.WithTx(context.Background(), func(tx Tx) error {
		order = models.Order{
			UserID:        7,
			Status:        models.OrderStatusPendingPayment,
			PaymentMethod: models.PaymentMethodBankTransfer,
			PaymentStatus: models.PaymentStatusPending,
			Total:         decimal.NewFromInt(100000),
			ExpiresAt:     &expiresAt,
		}
		if err := tx.InsertOrder(context.Background(), &order); err != nil {
			return err
		}
		attempt = models.PaymentAttempt{
			OrderID:  order.ID,
			Provider: models.ProviderBankTransfer,
			Code:     code,
			Amount:   order.Total,
			Status:   models.AttemptStatusPending,
		}
		return tx.InsertPaymentAttempt(context.Background(), &attempt)
	})
	require.NoError(t, err)
	return order, attempt
}

func TestMemoryWithTxRollsBackOnError(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	s.PutCart(7, models.CartLine{CartID: 1, ProductID: 1, Quantity: 1})

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		order := models.Order{UserID: 7, Status: models.OrderStatusPendingPayment}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}
		if _, err := tx.DeleteCartLines(ctx, 7, []int64{1}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetOrderByID(ctx, 1)
	assert.Error(t, err)
	cart, err := s.ListCartLines(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, cart, 1)

	// the id sequence is part of the discarded state
	order, _ := seedOrder(t, s, "DH-A", t0.Add(time.Hour))
	assert.Equal(t, int64(1), order.ID)
}

func TestMemoryWithTxUndoesUpdates(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	order, attempt := seedOrder(t, s, "TMP-1", t0.Add(time.Hour))
	paidAt := t0.Add(time.Minute)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.SetPaymentCode(ctx, attempt.ID, order.ID, "DH1PAY"); err != nil {
			return err
		}
		if _, err := tx.SettleAttempt(ctx, AttemptSettlement{AttemptID: attempt.ID, To: models.AttemptStatusPaid, PaidAt: &paidAt}); err != nil {
			return err
		}
		if _, err := tx.TransitionOrder(ctx, OrderTransition{
			OrderID: order.ID,
			From:    models.OrderStatusPendingPayment,
			To:      models.OrderStatusPaid,
		}); err != nil {
			return err
		}
		if err := tx.InsertUnmatchedNotification(ctx, &models.UnmatchedNotification{Provider: "sepay", Reason: "no_match"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingPayment, stored.Status)
	assert.Empty(t, stored.PaymentCode)

	a, err := s.GetPaymentAttemptByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusPending, a.Status)
	assert.Equal(t, "TMP-1", a.Code)
	assert.Nil(t, a.PaidAt)

	unmatched, err := s.ListUnmatchedNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unmatched)

	// DH1PAY is free again and TMP-1 still belongs to the attempt
	other, otherAttempt := seedOrder(t, s, "TMP-2", t0.Add(time.Hour))
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.SetPaymentCode(ctx, otherAttempt.ID, other.ID, "DH1PAY")
	}))
	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.SetPaymentCode(ctx, otherAttempt.ID, other.ID, "TMP-1")
	})
	assert.Error(t, err)
}

func TestMemoryWithTxUndoesOnPanic(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	order, _ := seedOrder(t, s, "DH1PAY", t0.Add(time.Hour))

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.TransitionOrder(ctx, OrderTransition{
				OrderID: order.ID,
				From:    models.OrderStatusPendingPayment,
				To:      models.OrderStatusCancelled,
			}); err != nil {
				return err
			}
			panic("unit of work crashed")
		})
	})

	stored, err := s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingPayment, stored.Status)
}

func TestMemoryWithTxHonoursCancelledContext(t *testing.T) {
	s := newMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithTx(ctx, func(Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemoryPaymentCodesAreUnique(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	order, attempt := seedOrder(t, s, "TMP-1", t0.Add(time.Hour))

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.SetPaymentCode(ctx, attempt.ID, order.ID, "DH1PAY")
	}))
	stored, err := s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "DH1PAY", stored.PaymentCode)

	other, otherAttempt := seedOrder(t, s, "TMP-2", t0.Add(time.Hour))
	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.SetPaymentCode(ctx, otherAttempt.ID, other.ID, "DH1PAY")
	})
	assert.Error(t, err)

	// a second pending attempt for the same order is refused
	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.InsertPaymentAttempt(ctx, &models.PaymentAttempt{
			OrderID: order.ID, Code: "TMP-3", Status: models.AttemptStatusPending,
		})
	})
	assert.Error(t, err)
}

func TestMemorySettleAttemptWinsOnce(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	_, attempt := seedOrder(t, s, "DH1PAY", t0.Add(time.Hour))
	paidAt := t0.Add(time.Minute)

	var first, second bool
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		if first, err = tx.SettleAttempt(ctx, AttemptSettlement{
			AttemptID:       attempt.ID,
			To:              models.AttemptStatusPaid,
			PaidAt:          &paidAt,
			NotificationKey: "payment:sepay:1",
			RawPayload:      json.RawMessage(`{"id":1}`),
		}); err != nil {
			return err
		}
		second, err = tx.SettleAttempt(ctx, AttemptSettlement{AttemptID: attempt.ID, To: models.AttemptStatusFailed})
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	stored, err := s.GetPaymentAttemptByOrderID(ctx, attempt.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusPaid, stored.Status)
	assert.Equal(t, paidAt, *stored.PaidAt)
	assert.JSONEq(t, `{"id":1}`, string(stored.RawPayload))
	assert.Equal(t, "payment:sepay:1", stored.NotificationKey)
}

func TestMemoryTransitionOrderIsConditional(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	order, _ := seedOrder(t, s, "DH1PAY", t0.Add(time.Hour))
	paidAt := t0.Add(time.Minute)

	var moved, again bool
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		moved, err = tx.TransitionOrder(ctx, OrderTransition{
			OrderID:       order.ID,
			From:          models.OrderStatusPendingPayment,
			To:            models.OrderStatusPaid,
			PaymentStatus: models.PaymentStatusPaid,
			PaidAt:        &paidAt,
		})
		if err != nil {
			return err
		}
		again, err = tx.TransitionOrder(ctx, OrderTransition{
			OrderID: order.ID,
			From:    models.OrderStatusPendingPayment,
			To:      models.OrderStatusCancelled,
		})
		return err
	}))
	assert.True(t, moved)
	assert.False(t, again)

	stored, err := s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Nil(t, stored.CancelledAt)
}

func TestMemoryCancelExpiredOrders(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	late, _ := seedOrder(t, s, "DH1PAY", t0.Add(time.Minute))
	fresh, _ := seedOrder(t, s, "DH2PAY", t0.Add(time.Hour))
	edge, _ := seedOrder(t, s, "DH3PAY", t0.Add(10*time.Minute))

	now := t0.Add(10 * time.Minute)
	var (
		ids    []int64
		failed int64
	)
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		if ids, err = tx.CancelExpiredOrders(ctx, now); err != nil {
			return err
		}
		failed, err = tx.FailPendingAttempts(ctx, ids)
		return err
	}))
	assert.Equal(t, []int64{late.ID}, ids)
	assert.Equal(t, int64(1), failed)

	stored, err := s.GetOrderByID(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, now, *stored.CancelledAt)

	for _, id := range []int64{fresh.ID, edge.ID} {
		o, err := s.GetOrderByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPendingPayment, o.Status)
	}
}

func TestMemoryDeleteCartLines(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	s.PutCart(7,
		models.CartLine{CartID: 1, ProductID: 3, Quantity: 1},
		models.CartLine{CartID: 1, ProductID: 1, Quantity: 2},
		models.CartLine{CartID: 1, ProductID: 2, Quantity: 1},
	)

	var removed int64
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		removed, err = tx.DeleteCartLines(ctx, 7, []int64{1, 2, 99})
		return err
	}))
	assert.Equal(t, int64(2), removed)

	cart, err := s.ListCartLines(ctx, 7)
	require.NoError(t, err)
	require.Len(t, cart, 1)
	assert.Equal(t, int64(3), cart[0].ProductID)

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		n, err := tx.DeleteCartLines(ctx, 404, []int64{1})
		assert.Zero(t, n)
		return err
	}))
}

func TestMemoryUnmatchedNewestFirst(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	for _, ref := range []string{"a", "b", "c"} {
		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			return tx.InsertUnmatchedNotification(ctx, &models.UnmatchedNotification{
				Provider: "sepay", ProviderRef: ref, Reason: "no_match",
			})
		}))
	}

	list, err := s.ListUnmatchedNotifications(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ProviderRef)
	assert.Equal(t, "b", list[1].ProviderRef)
}
