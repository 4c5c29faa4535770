package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/pricing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Reader is the read side of the order and payment store
type Reader interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetLineSnapshots(ctx context.Context, orderID int64) ([]models.LineSnapshot, error)
	GetPaymentAttemptByOrderID(ctx context.Context, orderID int64) (*models.PaymentAttempt, error)
	ListCartLines(ctx context.Context, userID int64) ([]models.CartLine, error)
	ListUnmatchedNotifications(ctx context.Context, limit int) ([]models.UnmatchedNotification, error)
	Ping(ctx context.Context) error
}

// OrderTransition is a conditional order update applied only while the
// order is still in From. Nil or empty fields are left unchanged.
type OrderTransition struct {
	OrderID       int64
	From          models.OrderStatus
	To            models.OrderStatus
	PaymentStatus models.PaymentStatus
	PaidAt        *time.Time
	CancelledAt   *time.Time
}

// AttemptSettlement finalizes a PENDING attempt. NotificationKey names the
// provider notification that settled it, "" for operator overrides.
type AttemptSettlement struct {
	AttemptID       int64
	To              models.AttemptStatus
	PaidAt          *time.Time
	NotificationKey string
	RawPayload      json.RawMessage
}

// Tx is the transactional handle passed to a unit of work. It doubles as
// the catalog so pricing reads the same snapshot it writes against.
type Tx interface {
	pricing.Catalog

	InsertOrder(ctx context.Context, order *models.Order) error
	InsertLineSnapshots(ctx context.Context, lines []models.LineSnapshot) error
	InsertPaymentAttempt(ctx context.Context, attempt *models.PaymentAttempt) error
	SetPaymentCode(ctx context.Context, attemptID, orderID int64, code string) error
	DeleteCartLines(ctx context.Context, userID int64, productIDs []int64) (int64, error)

	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	GetLineSnapshots(ctx context.Context, orderID int64) ([]models.LineSnapshot, error)
	GetPaymentAttempt(ctx context.Context, id int64) (*models.PaymentAttempt, error)
	GetPaymentAttemptByOrderID(ctx context.Context, orderID int64) (*models.PaymentAttempt, error)

	// SettleAttempt moves a PENDING attempt to a terminal status and
	// reports whether this call won the transition.
	SettleAttempt(ctx context.Context, s AttemptSettlement) (bool, error)
	// TransitionOrder applies t and reports whether the order was still in t.From.
	TransitionOrder(ctx context.Context, t OrderTransition) (bool, error)
	CancelExpiredOrders(ctx context.Context, now time.Time) ([]int64, error)
	FailPendingAttempts(ctx context.Context, orderIDs []int64) (int64, error)

	InsertUnmatchedNotification(ctx context.Context, n *models.UnmatchedNotification) error
}

// UnitOfWork runs fn atomically: every write made through tx commits
// together when fn returns nil and is discarded otherwise.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Store is the full order and payment store
type Store interface {
	Reader
	UnitOfWork
	Close() error
}

// PostgresStore is the Postgres-backed Store
type PostgresStore struct {
	db   *sqlx.DB
	read queries
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreFromDB(db), nil
}

// NewStoreFromDB wraps an existing connection pool
func NewStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, read: queries{q: db}}
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a database transaction
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (s *PostgresStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return s.read.getOrder(ctx, id, false)
}

// GetLineSnapshots retrieves the line snapshots of an order
func (s *PostgresStore) GetLineSnapshots(ctx context.Context, orderID int64) ([]models.LineSnapshot, error) {
	return s.read.GetLineSnapshots(ctx, orderID)
}

// GetPaymentAttemptByOrderID retrieves the payment attempt of an order, nil if there is none
func (s *PostgresStore) GetPaymentAttemptByOrderID(ctx context.Context, orderID int64) (*models.PaymentAttempt, error) {
	return s.read.GetPaymentAttemptByOrderID(ctx, orderID)
}

// ListCartLines lists the lines of a user's active cart
func (s *PostgresStore) ListCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return s.read.listCartLines(ctx, userID)
}

// ListUnmatchedNotifications lists retained notifications, newest first
func (s *PostgresStore) ListUnmatchedNotifications(ctx context.Context, limit int) ([]models.UnmatchedNotification, error) {
	return s.read.listUnmatched(ctx, limit)
}
