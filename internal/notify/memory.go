package notify

import (
	"context"
	"errors"
	"sync"

	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// ErrClosed is returned by a bus after Close
var ErrClosed = errors.New("notification bus closed")

// DefaultBuffer is the per-subscriber channel capacity
const DefaultBuffer = 16

// MemoryBus fans events out to subscribers of this process
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	buffer int
	closed bool
	logger *zap.Logger
}

type memorySub struct {
	ch   chan Event
	once sync.Once
}

// NewMemoryBus creates an in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[string]map[*memorySub]struct{}),
		buffer: DefaultBuffer,
		logger: util.GetLogger(),
	}
}

// Publish delivers event to subscribers of topic and of AllOrders.
// A subscriber whose buffer is full misses the event.
func (b *MemoryBus) Publish(_ context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	b.deliver(topic, event)
	if topic != AllOrders {
		b.deliver(AllOrders, event)
	}
	return nil
}

func (b *MemoryBus) deliver(topic string, event Event) {
	for sub := range b.subs[topic] {
		select {
		case sub.ch <- event:
		default:
			util.NotificationsDroppedTotal.Inc()
			b.logger.Warn("Dropping event for slow subscriber",
				zap.String("topic", topic),
				zap.Int64("order_id", event.OrderID))
		}
	}
}

// Subscribe registers a listener on topic. The subscription is also
// closed when ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	sub := &memorySub{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySub]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()
	util.NotificationSubscribers.Inc()

	stop := context.AfterFunc(ctx, func() { b.remove(topic, sub) })
	return &Subscription{
		events: sub.ch,
		cancel: func() {
			stop()
			b.remove(topic, sub)
		},
	}, nil
}

func (b *MemoryBus) remove(topic string, sub *memorySub) {
	sub.once.Do(func() {
		b.mu.Lock()
		if set, ok := b.subs[topic]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, topic)
			}
		}
		b.mu.Unlock()
		close(sub.ch)
		util.NotificationSubscribers.Dec()
	})
}

// SubscriberCount returns the number of listeners on topic
func (b *MemoryBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close closes every subscription and rejects further use
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	var all []struct {
		topic string
		sub   *memorySub
	}
	for topic, set := range b.subs {
		for sub := range set {
			all = append(all, struct {
				topic string
				sub   *memorySub
			}{topic, sub})
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		b.remove(s.topic, s.sub)
	}
	return nil
}
