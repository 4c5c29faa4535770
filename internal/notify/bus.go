package notify

import (
	"context"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/models"
)

// AllOrders is the topic that receives every order event
const AllOrders = "order:*"

const topicPrefix = "order:"

// Event is pushed to clients watching an order
type Event struct {
	OrderID int64              `json:"orderId"`
	Status  models.OrderStatus `json:"status"`
	Source  string             `json:"source"`
	At      time.Time          `json:"at"`
}

// OrderTopic returns the topic carrying events for one order
func OrderTopic(orderID int64) string {
	return topicPrefix + strconv.FormatInt(orderID, 10)
}

// ParseTopic returns the order id of an order topic
func ParseTopic(topic string) (int64, bool) {
	if !strings.HasPrefix(topic, topicPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(topic, topicPrefix), 10, 64)
	return id, err == nil && id > 0
}

// Bus is a best-effort publish/subscribe channel for order events.
// Events are not queued for absent subscribers.
type Bus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// Subscription delivers events until Close is called
type Subscription struct {
	events <-chan Event
	cancel func()
}

// Events returns the delivery channel; it is closed after Close
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close deregisters the subscription; safe to call more than once
func (s *Subscription) Close() {
	s.cancel()
}
