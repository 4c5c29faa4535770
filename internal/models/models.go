package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusShipping       OrderStatus = "SHIPPING"
	OrderStatusSuccess        OrderStatus = "SUCCESS"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// PaymentMethod selects how the buyer pays
type PaymentMethod string

// Payment methods
const (
	PaymentMethodCOD          PaymentMethod = "COD"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// PaymentStatus is the payment state recorded on an order
type PaymentStatus string

// Order payment statuses
const (
	PaymentStatusPending     PaymentStatus = "PENDING"
	PaymentStatusPaid        PaymentStatus = "PAID"
	PaymentStatusFailed      PaymentStatus = "FAILED"
	PaymentStatusNotRequired PaymentStatus = "NOT_REQUIRED"
)

// AttemptStatus is the state of a single payment attempt
type AttemptStatus string

// Payment attempt statuses
const (
	AttemptStatusPending AttemptStatus = "PENDING"
	AttemptStatusPaid    AttemptStatus = "PAID"
	AttemptStatusFailed  AttemptStatus = "FAILED"
)

// ProviderBankTransfer identifies attempts settled by bank transfer notifications
const ProviderBankTransfer = "BANK_TRANSFER"

// Product is the catalog view consumed when pricing an order
type Product struct {
	ID     int64           `db:"id" json:"id"`
	SKU    string          `db:"sku" json:"sku"`
	Name   string          `db:"name" json:"name"`
	Price  decimal.Decimal `db:"price" json:"price"`
	Active bool            `db:"active" json:"active"`
}

// CartLine is a row in a buyer's active cart
type CartLine struct {
	CartID    int64 `db:"cart_id" json:"cart_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
}

// Order represents a customer order
type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	Status          OrderStatus     `db:"status" json:"status"`
	PaymentMethod   PaymentMethod   `db:"payment_method" json:"payment_method"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"payment_status"`
	PaymentCode     string          `db:"payment_code" json:"payment_code,omitempty"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	ShippingFee     decimal.Decimal `db:"shipping_fee" json:"shipping_fee"`
	Discount        decimal.Decimal `db:"discount" json:"discount"`
	Total           decimal.Decimal `db:"total" json:"total"`
	ShippingName    string          `db:"shipping_name" json:"shipping_name"`
	ShippingPhone   string          `db:"shipping_phone" json:"shipping_phone"`
	ShippingAddress string          `db:"shipping_address" json:"shipping_address"`
	Note            string          `db:"note" json:"note,omitempty"`
	ExpiresAt       *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	PaidAt          *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CancelledAt     *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// LineSnapshot is the immutable copy of a purchased line taken at order time
type LineSnapshot struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity  int             `db:"quantity" json:"quantity"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// PaymentAttempt is one bank transfer expected for an order
type PaymentAttempt struct {
	ID       int64           `db:"id" json:"id"`
	OrderID  int64           `db:"order_id" json:"order_id"`
	Provider string          `db:"provider" json:"provider"`
	Status   AttemptStatus   `db:"status" json:"status"`
	Amount   decimal.Decimal `db:"amount" json:"amount"`
	Code     string          `db:"code" json:"code"`
	// NotificationKey identifies the provider notification that settled the attempt
	NotificationKey string          `db:"notification_key" json:"-"`
	RawPayload      json.RawMessage `db:"raw_payload" json:"-"`
	PaidAt          *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// UnmatchedNotification retains a provider notification that matched no pending attempt
type UnmatchedNotification struct {
	ID          int64           `db:"id" json:"id"`
	Provider    string          `db:"provider" json:"provider"`
	ProviderRef string          `db:"provider_ref" json:"provider_ref"`
	Narration   string          `db:"narration" json:"narration"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Reason      string          `db:"reason" json:"reason"`
	RawPayload  json.RawMessage `db:"raw_payload" json:"raw_payload"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
