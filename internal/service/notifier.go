package service

import (
	"context"
	"sync"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/notify"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventPublisher emits domain events to downstream systems
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// DefaultPublishTimeout bounds a single post-commit publish
const DefaultPublishTimeout = 5 * time.Second

// Notifier runs post-commit side effects off the request path: the live
// order event on the bus and the domain event on the broker. Failures are
// logged and never reach the caller.
type Notifier struct {
	bus     notify.Bus
	events  EventPublisher
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewNotifier creates a notifier; a nil events publisher disables domain events
func NewNotifier(bus notify.Bus, events EventPublisher) *Notifier {
	if events == nil {
		events = broker.NoopPublisher{}
	}
	return &Notifier{
		bus:     bus,
		events:  events,
		timeout: DefaultPublishTimeout,
		logger:  util.GetLogger(),
	}
}

func (n *Notifier) async(fn func(ctx context.Context)) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until every pending publish has finished
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) publishStatus(ctx context.Context, orderID int64, status models.OrderStatus, source string) {
	event := notify.Event{OrderID: orderID, Status: status, Source: source, At: time.Now().UTC()}
	if err := n.bus.Publish(ctx, notify.OrderTopic(orderID), event); err != nil {
		n.logger.Warn("Failed to publish order event",
			zap.Int64("order_id", orderID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// OrderCreated emits ORDER_CREATED
func (n *Notifier) OrderCreated(order models.Order, lines []models.LineSnapshot) {
	items := make([]models.OrderItemData, len(lines))
	for i, l := range lines {
		items[i] = models.OrderItemData{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		UserID:        order.UserID,
		PaymentMethod: order.PaymentMethod,
		Total:         order.Total,
		Items:         items,
	}

	n.async(func(ctx context.Context) {
		if err := n.events.PublishOrderCreated(ctx, event); err != nil {
			n.logger.Error("Failed to publish OrderCreated event", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	})
}

// OrderPaid pushes the PAID status to watchers and emits ORDER_PAID
func (n *Notifier) OrderPaid(order models.Order, attempt models.PaymentAttempt, reported decimal.Decimal, providerRef, source string) {
	event := &models.OrderPaidEvent{
		BaseEvent:      broker.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:        order.ID,
		PaymentID:      attempt.ID,
		Amount:         attempt.Amount,
		ReportedAmount: reported,
		ProviderRef:    providerRef,
		Source:         source,
	}

	n.async(func(ctx context.Context) {
		n.publishStatus(ctx, order.ID, models.OrderStatusPaid, source)
		if err := n.events.PublishOrderPaid(ctx, event); err != nil {
			n.logger.Error("Failed to publish OrderPaid event", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	})
}

// StatusChanged pushes a new status to watchers and emits ORDER_STATUS_CHANGED
func (n *Notifier) StatusChanged(orderID int64, from, to models.OrderStatus, source string) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   orderID,
		From:      from,
		To:        to,
		Source:    source,
	}

	n.async(func(ctx context.Context) {
		n.publishStatus(ctx, orderID, to, source)
		if err := n.events.PublishOrderStatusChanged(ctx, event); err != nil {
			n.logger.Error("Failed to publish OrderStatusChanged event", zap.Int64("order_id", orderID), zap.Error(err))
		}
	})
}
