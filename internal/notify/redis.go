package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"checkout-service/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisBus fans events out through Redis pub/sub so every instance
// behind a load balancer reaches its own connected clients.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
	buffer int
	logger *zap.Logger
}

// NewRedisBus creates a bus on rdb; channels are namespaced by prefix
func NewRedisBus(rdb *redis.Client, prefix string) *RedisBus {
	return &RedisBus{
		rdb:    rdb,
		prefix: prefix,
		buffer: DefaultBuffer,
		logger: util.GetLogger(),
	}
}

// Publish sends event to topic; Redis delivers it to AllOrders pattern subscribers too
func (b *RedisBus) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe listens on topic once Redis has confirmed the subscription
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	var pubsub *redis.PubSub
	if topic == AllOrders {
		pubsub = b.rdb.PSubscribe(ctx, b.prefix+AllOrders)
	} else {
		pubsub = b.rdb.Subscribe(ctx, b.prefix+topic)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	util.NotificationSubscribers.Inc()

	out := make(chan Event, b.buffer)
	done := make(chan struct{})
	go b.forward(pubsub.Channel(), out, done)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := pubsub.Close(); err != nil {
				b.logger.Warn("Failed to close redis subscription", zap.String("topic", topic), zap.Error(err))
			}
			util.NotificationSubscribers.Dec()
		})
	}
	stop := context.AfterFunc(ctx, cancel)

	return &Subscription{
		events: out,
		cancel: func() {
			stop()
			cancel()
		},
	}, nil
}

func (b *RedisBus) forward(in <-chan *redis.Message, out chan<- Event, done <-chan struct{}) {
	defer close(out)
	for {
		select {
		case <-done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("Discarding malformed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case out <- event:
			case <-done:
				return
			default:
				util.NotificationsDroppedTotal.Inc()
			}
		}
	}
}

// Close is a no-op; the Redis client is owned by the caller
func (b *RedisBus) Close() error {
	return nil
}
