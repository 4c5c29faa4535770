package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

// MemoryStore is an in-process Store. Units of work are serialized and
// write in place behind an undo log, so a failed unit leaves no trace and
// costs only the rows it touched.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	products  map[int64]models.Product
	carts     map[int64][]models.CartLine
	orders    map[int64]models.Order
	lines     map[int64][]models.LineSnapshot
	attempts  map[int64]models.PaymentAttempt
	codes     map[string]int64
	unmatched []models.UnmatchedNotification

	nextOrder, nextLine, nextAttempt, nextUnmatched int64
}

// memMark captures the append-only parts of the state at the start of a unit of work
type memMark struct {
	nextOrder, nextLine, nextAttempt, nextUnmatched int64
	unmatched                                       int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			products: make(map[int64]models.Product),
			carts:    make(map[int64][]models.CartLine),
			orders:   make(map[int64]models.Order),
			lines:    make(map[int64][]models.LineSnapshot),
			attempts: make(map[int64]models.PaymentAttempt),
			codes:    make(map[string]int64),
		},
		now: time.Now,
	}
}

// PutProduct adds or replaces a catalog product
func (s *MemoryStore) PutProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
}

// PutCart replaces the active cart of a user
func (s *MemoryStore) PutCart(userID int64, lines ...models.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.carts[userID] = append([]models.CartLine(nil), lines...)
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error { return nil }

// WithTx runs fn under the store lock. If fn fails or panics every write
// it made is undone before the lock is released.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{st: s.state, now: s.now, mark: s.state.mark()}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetOrderByID retrieves an order by ID
func (s *MemoryStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.order(id)
}

// GetLineSnapshots retrieves the line snapshots of an order
func (s *MemoryStore) GetLineSnapshots(_ context.Context, orderID int64) ([]models.LineSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LineSnapshot(nil), s.state.lines[orderID]...), nil
}

// GetPaymentAttemptByOrderID retrieves the latest attempt of an order, nil if there is none
func (s *MemoryStore) GetPaymentAttemptByOrderID(_ context.Context, orderID int64) (*models.PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.attemptByOrder(orderID), nil
}

// ListCartLines lists the lines of a user's active cart
func (s *MemoryStore) ListCartLines(_ context.Context, userID int64) ([]models.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := append([]models.CartLine(nil), s.state.carts[userID]...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

// ListUnmatchedNotifications lists retained notifications, newest first
func (s *MemoryStore) ListUnmatchedNotifications(_ context.Context, limit int) ([]models.UnmatchedNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := make([]models.UnmatchedNotification, 0, limit)
	for i := len(s.state.unmatched) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.state.unmatched[i])
	}
	return out, nil
}

func (st *memState) mark() memMark {
	return memMark{
		nextOrder:     st.nextOrder,
		nextLine:      st.nextLine,
		nextAttempt:   st.nextAttempt,
		nextUnmatched: st.nextUnmatched,
		unmatched:     len(st.unmatched),
	}
}

func (st *memState) order(id int64) (*models.Order, error) {
	o, ok := st.orders[id]
	if !ok {
		return nil, apperr.NotFound("order not found: %d", id)
	}
	return &o, nil
}

func (st *memState) attemptByOrder(orderID int64) *models.PaymentAttempt {
	var latest *models.PaymentAttempt
	for _, a := range st.attempts {
		if a.OrderID != orderID {
			continue
		}
		if latest == nil || a.ID > latest.ID {
			a := a
			latest = &a
		}
	}
	return latest
}

// memTx is the Tx handed to MemoryStore units of work
type memTx struct {
	st   *memState
	now  func() time.Time
	mark memMark
	undo []func()
}

// remember records how to restore m[k] should the unit of work fail
func remember[K comparable, V any](t *memTx, m map[K]V, k K) {
	prev, had := m[k]
	t.undo = append(t.undo, func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.st.nextOrder = t.mark.nextOrder
	t.st.nextLine = t.mark.nextLine
	t.st.nextAttempt = t.mark.nextAttempt
	t.st.nextUnmatched = t.mark.nextUnmatched
	t.st.unmatched = t.st.unmatched[:t.mark.unmatched]
}

func (t *memTx) ProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	out := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.st.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) InsertOrder(_ context.Context, order *models.Order) error {
	t.st.nextOrder++
	now := t.now()
	order.ID = t.st.nextOrder
	order.CreatedAt = now
	order.UpdatedAt = now
	remember(t, t.st.orders, order.ID)
	t.st.orders[order.ID] = *order
	return nil
}

func (t *memTx) InsertLineSnapshots(_ context.Context, lines []models.LineSnapshot) error {
	for i := range lines {
		if _, ok := t.st.orders[lines[i].OrderID]; !ok {
			return fmt.Errorf("line snapshot references unknown order %d", lines[i].OrderID)
		}
		t.st.nextLine++
		lines[i].ID = t.st.nextLine
		remember(t, t.st.lines, lines[i].OrderID)
		t.st.lines[lines[i].OrderID] = append(t.st.lines[lines[i].OrderID], lines[i])
	}
	return nil
}

func (t *memTx) InsertPaymentAttempt(_ context.Context, attempt *models.PaymentAttempt) error {
	if _, ok := t.st.orders[attempt.OrderID]; !ok {
		return fmt.Errorf("payment attempt references unknown order %d", attempt.OrderID)
	}
	if _, dup := t.st.codes[attempt.Code]; dup {
		return fmt.Errorf("duplicate payment code %q", attempt.Code)
	}
	if attempt.Status == models.AttemptStatusPending {
		if a := t.st.attemptByOrder(attempt.OrderID); a != nil && a.Status == models.AttemptStatusPending {
			return fmt.Errorf("order %d already has a pending payment attempt", attempt.OrderID)
		}
	}

	t.st.nextAttempt++
	now := t.now()
	attempt.ID = t.st.nextAttempt
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	remember(t, t.st.attempts, attempt.ID)
	remember(t, t.st.codes, attempt.Code)
	t.st.attempts[attempt.ID] = *attempt
	t.st.codes[attempt.Code] = attempt.ID
	return nil
}

func (t *memTx) SetPaymentCode(_ context.Context, attemptID, orderID int64, code string) error {
	a, ok := t.st.attempts[attemptID]
	if !ok {
		return fmt.Errorf("payment attempt not found: %d", attemptID)
	}
	if owner, dup := t.st.codes[code]; dup && owner != attemptID {
		return fmt.Errorf("duplicate payment code %q", code)
	}
	o, ok := t.st.orders[orderID]
	if !ok {
		return apperr.NotFound("order not found: %d", orderID)
	}

	now := t.now()
	remember(t, t.st.codes, a.Code)
	remember(t, t.st.codes, code)
	remember(t, t.st.attempts, attemptID)
	remember(t, t.st.orders, orderID)
	delete(t.st.codes, a.Code)
	a.Code = code
	a.UpdatedAt = now
	t.st.attempts[attemptID] = a
	t.st.codes[code] = attemptID

	o.PaymentCode = code
	o.UpdatedAt = now
	t.st.orders[orderID] = o
	return nil
}

func (t *memTx) DeleteCartLines(_ context.Context, userID int64, productIDs []int64) (int64, error) {
	drop := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		drop[id] = true
	}

	var removed int64
	kept := t.st.carts[userID][:0:0]
	for _, l := range t.st.carts[userID] {
		if drop[l.ProductID] {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	if _, ok := t.st.carts[userID]; ok {
		remember(t, t.st.carts, userID)
		t.st.carts[userID] = kept
	}
	return removed, nil
}

func (t *memTx) GetOrderForUpdate(_ context.Context, id int64) (*models.Order, error) {
	return t.st.order(id)
}

func (t *memTx) GetLineSnapshots(_ context.Context, orderID int64) ([]models.LineSnapshot, error) {
	return append([]models.LineSnapshot(nil), t.st.lines[orderID]...), nil
}

func (t *memTx) GetPaymentAttempt(_ context.Context, id int64) (*models.PaymentAttempt, error) {
	a, ok := t.st.attempts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (t *memTx) GetPaymentAttemptByOrderID(_ context.Context, orderID int64) (*models.PaymentAttempt, error) {
	return t.st.attemptByOrder(orderID), nil
}

func (t *memTx) SettleAttempt(_ context.Context, s AttemptSettlement) (bool, error) {
	a, ok := t.st.attempts[s.AttemptID]
	if !ok || a.Status != models.AttemptStatusPending {
		return false, nil
	}
	a.Status = s.To
	a.NotificationKey = s.NotificationKey
	if s.PaidAt != nil {
		a.PaidAt = s.PaidAt
	}
	if len(s.RawPayload) > 0 {
		a.RawPayload = append(json.RawMessage(nil), s.RawPayload...)
	}
	a.UpdatedAt = t.now()
	remember(t, t.st.attempts, s.AttemptID)
	t.st.attempts[s.AttemptID] = a
	return true, nil
}

func (t *memTx) TransitionOrder(_ context.Context, tr OrderTransition) (bool, error) {
	o, ok := t.st.orders[tr.OrderID]
	if !ok || o.Status != tr.From {
		return false, nil
	}
	o.Status = tr.To
	if tr.PaymentStatus != "" {
		o.PaymentStatus = tr.PaymentStatus
	}
	if tr.PaidAt != nil {
		o.PaidAt = tr.PaidAt
	}
	if tr.CancelledAt != nil {
		o.CancelledAt = tr.CancelledAt
	}
	o.UpdatedAt = t.now()
	remember(t, t.st.orders, tr.OrderID)
	t.st.orders[tr.OrderID] = o
	return true, nil
}

func (t *memTx) CancelExpiredOrders(_ context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	for id, o := range t.st.orders {
		if o.Status != models.OrderStatusPendingPayment || o.ExpiresAt == nil || !o.ExpiresAt.Before(now) {
			continue
		}
		cancelledAt := now
		o.Status = models.OrderStatusCancelled
		o.PaymentStatus = models.PaymentStatusFailed
		o.CancelledAt = &cancelledAt
		o.UpdatedAt = t.now()
		remember(t, t.st.orders, id)
		t.st.orders[id] = o
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *memTx) FailPendingAttempts(_ context.Context, orderIDs []int64) (int64, error) {
	targets := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		targets[id] = true
	}

	var n int64
	for id, a := range t.st.attempts {
		if targets[a.OrderID] && a.Status == models.AttemptStatusPending {
			a.Status = models.AttemptStatusFailed
			a.UpdatedAt = t.now()
			remember(t, t.st.attempts, id)
			t.st.attempts[id] = a
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertUnmatchedNotification(_ context.Context, n *models.UnmatchedNotification) error {
	t.st.nextUnmatched++
	n.ID = t.st.nextUnmatched
	n.CreatedAt = t.now()
	t.st.unmatched = append(t.st.unmatched, *n)
	return nil
}
