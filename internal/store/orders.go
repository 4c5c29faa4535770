package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// queries implements Tx over either the pool or a transaction
type queries struct {
	q sqlx.ExtContext
}

var (
	_ Tx    = queries{}
	_ Store = (*PostgresStore)(nil)
)

// ProductsByIDs retrieves multiple products by IDs
func (r queries) ProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT id, sku, name, price, active FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var products []models.Product
	err = sqlx.SelectContext(ctx, r.q, &products, query, args...)
	return products, err
}

// InsertOrder creates a new order
func (r queries) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, status, payment_method, payment_status, payment_code,
			subtotal, shipping_fee, discount, total,
			shipping_name, shipping_phone, shipping_address, note, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, r.q, order, query,
		order.UserID, order.Status, order.PaymentMethod, order.PaymentStatus, order.PaymentCode,
		order.Subtotal, order.ShippingFee, order.Discount, order.Total,
		order.ShippingName, order.ShippingPhone, order.ShippingAddress, order.Note, order.ExpiresAt)
}

// InsertLineSnapshots stores the purchased lines of an order
func (r queries) InsertLineSnapshots(ctx context.Context, lines []models.LineSnapshot) error {
	query := `
		INSERT INTO order_line_snapshots (order_id, product_id, sku, name, unit_price, quantity, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	for i := range lines {
		l := &lines[i]
		if err := sqlx.GetContext(ctx, r.q, &l.ID, query,
			l.OrderID, l.ProductID, l.SKU, l.Name, l.UnitPrice, l.Quantity, l.LineTotal); err != nil {
			return fmt.Errorf("failed to insert line snapshot for product %d: %w", l.ProductID, err)
		}
	}
	return nil
}

// InsertPaymentAttempt creates a new payment attempt
func (r queries) InsertPaymentAttempt(ctx context.Context, attempt *models.PaymentAttempt) error {
	query := `
		INSERT INTO payment_attempts (order_id, provider, status, amount, code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, r.q, attempt, query,
		attempt.OrderID, attempt.Provider, attempt.Status, attempt.Amount, attempt.Code)
}

// SetPaymentCode stores the final correlation code on the attempt and its order
func (r queries) SetPaymentCode(ctx context.Context, attemptID, orderID int64, code string) error {
	if _, err := r.q.ExecContext(ctx,
		"UPDATE payment_attempts SET code = $1, updated_at = NOW() WHERE id = $2",
		code, attemptID); err != nil {
		return fmt.Errorf("failed to set attempt code: %w", err)
	}
	if _, err := r.q.ExecContext(ctx,
		"UPDATE orders SET payment_code = $1, updated_at = NOW() WHERE id = $2",
		code, orderID); err != nil {
		return fmt.Errorf("failed to set order payment code: %w", err)
	}
	return nil
}

// DeleteCartLines removes the given products from the user's active cart
func (r queries) DeleteCartLines(ctx context.Context, userID int64, productIDs []int64) (int64, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`
		DELETE FROM cart_items
		WHERE cart_id IN (SELECT id FROM carts WHERE user_id = ? AND active)
		  AND product_id IN (?)`, userID, productIDs)
	if err != nil {
		return 0, err
	}

	res, err := r.q.ExecContext(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cart lines: %w", err)
	}
	return res.RowsAffected()
}

// GetOrderForUpdate retrieves an order and locks its row until the transaction ends
func (r queries) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return r.getOrder(ctx, id, true)
}

func (r queries) getOrder(ctx context.Context, id int64, lock bool) (*models.Order, error) {
	query := "SELECT * FROM orders WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}

	var order models.Order
	err := sqlx.GetContext(ctx, r.q, &order, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetLineSnapshots retrieves all line snapshots for an order
func (r queries) GetLineSnapshots(ctx context.Context, orderID int64) ([]models.LineSnapshot, error) {
	var lines []models.LineSnapshot
	err := sqlx.SelectContext(ctx, r.q, &lines,
		"SELECT * FROM order_line_snapshots WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// GetPaymentAttempt retrieves an attempt by ID, nil if it does not exist
func (r queries) GetPaymentAttempt(ctx context.Context, id int64) (*models.PaymentAttempt, error) {
	return r.getAttempt(ctx, "SELECT * FROM payment_attempts WHERE id = $1", id)
}

// GetPaymentAttemptByOrderID retrieves the latest attempt for an order, nil if there is none
func (r queries) GetPaymentAttemptByOrderID(ctx context.Context, orderID int64) (*models.PaymentAttempt, error) {
	return r.getAttempt(ctx,
		"SELECT * FROM payment_attempts WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
}

func (r queries) getAttempt(ctx context.Context, query string, arg int64) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := sqlx.GetContext(ctx, r.q, &attempt, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// SettleAttempt finalizes a PENDING attempt
func (r queries) SettleAttempt(ctx context.Context, s AttemptSettlement) (bool, error) {
	var payload interface{}
	if len(s.RawPayload) > 0 {
		payload = string(s.RawPayload)
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE payment_attempts
		SET status = $1, paid_at = COALESCE($2, paid_at), notification_key = $3,
			raw_payload = COALESCE($4::jsonb, raw_payload), updated_at = NOW()
		WHERE id = $5 AND status = $6`,
		s.To, s.PaidAt, s.NotificationKey, payload, s.AttemptID, models.AttemptStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to settle payment attempt %d: %w", s.AttemptID, err)
	}
	return affectedOne(res)
}

// TransitionOrder conditionally moves an order between statuses
func (r queries) TransitionOrder(ctx context.Context, t OrderTransition) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
			payment_status = COALESCE(NULLIF($2::text, ''), payment_status),
			paid_at = COALESCE($3, paid_at),
			cancelled_at = COALESCE($4, cancelled_at),
			updated_at = NOW()
		WHERE id = $5 AND status = $6`,
		t.To, string(t.PaymentStatus), t.PaidAt, t.CancelledAt, t.OrderID, t.From)
	if err != nil {
		return false, fmt.Errorf("failed to transition order %d: %w", t.OrderID, err)
	}
	return affectedOne(res)
}

// CancelExpiredOrders cancels unpaid bank transfer orders past their deadline
func (r queries) CancelExpiredOrders(ctx context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, r.q, &ids, `
		UPDATE orders
		SET status = $1, payment_status = $2, cancelled_at = $3, updated_at = NOW()
		WHERE status = $4 AND expires_at IS NOT NULL AND expires_at < $3
		RETURNING id`,
		models.OrderStatusCancelled, models.PaymentStatusFailed, now, models.OrderStatusPendingPayment)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel expired orders: %w", err)
	}
	return ids, nil
}

// FailPendingAttempts marks every PENDING attempt of the given orders FAILED
func (r queries) FailPendingAttempts(ctx context.Context, orderIDs []int64) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`
		UPDATE payment_attempts SET status = ?, updated_at = NOW()
		WHERE order_id IN (?) AND status = ?`,
		models.AttemptStatusFailed, orderIDs, models.AttemptStatusPending)
	if err != nil {
		return 0, err
	}

	res, err := r.q.ExecContext(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to fail pending attempts: %w", err)
	}
	return res.RowsAffected()
}

// InsertUnmatchedNotification retains a notification for manual reconciliation
func (r queries) InsertUnmatchedNotification(ctx context.Context, n *models.UnmatchedNotification) error {
	payload := n.RawPayload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	query := `
		INSERT INTO unmatched_notifications (provider, provider_ref, narration, amount, reason, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING id, created_at`

	return sqlx.GetContext(ctx, r.q, n, query,
		n.Provider, n.ProviderRef, n.Narration, n.Amount, n.Reason, string(payload))
}

func (r queries) listCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := sqlx.SelectContext(ctx, r.q, &lines, `
		SELECT ci.cart_id, ci.product_id, ci.quantity
		FROM cart_items ci JOIN carts c ON c.id = ci.cart_id
		WHERE c.user_id = $1 AND c.active
		ORDER BY ci.product_id`, userID)
	return lines, err
}

func (r queries) listUnmatched(ctx context.Context, limit int) ([]models.UnmatchedNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.UnmatchedNotification
	err := sqlx.SelectContext(ctx, r.q, &out,
		"SELECT * FROM unmatched_notifications ORDER BY created_at DESC, id DESC LIMIT $1", limit)
	return out, err
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
