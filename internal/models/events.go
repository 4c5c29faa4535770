package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated        = "ORDER_CREATED"
	EventTypeOrderPaid           = "ORDER_PAID"
	EventTypeOrderStatusChanged  = "ORDER_STATUS_CHANGED"
	EventTypePaymentNotification = "PAYMENT_NOTIFICATION"
)

// Sources of an order state change
const (
	SourceWebhook = "WEBHOOK"
	SourceAdmin   = "ADMIN"
	SourceExpiry  = "EXPIRY"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Total         decimal.Decimal `json:"total"`
	Items         []OrderItemData `json:"items"`
}

// OrderPaidEvent published when a bank transfer settles an order
type OrderPaidEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	PaymentID      int64           `json:"payment_id"`
	Amount         decimal.Decimal `json:"amount"`
	ReportedAmount decimal.Decimal `json:"reported_amount"`
	ProviderRef    string          `json:"provider_ref"`
	Source         string          `json:"source"`
}

// OrderStatusChangedEvent published for admin and expiry transitions
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64       `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
	Source  string      `json:"source"`
}

// PaymentNotificationEvent carries a raw provider notification delivered over the broker
type PaymentNotificationEvent struct {
	BaseEvent
	Provider string          `json:"provider"`
	Payload  json.RawMessage `json:"payload"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
