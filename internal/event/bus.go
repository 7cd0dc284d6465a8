package event

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler receives the payload published under a topic.
type Handler func(payload any)

type subscription struct {
	id      string
	handler Handler
}

// Bus is a topic-keyed subscription registry. Publish runs handlers
// synchronously in registration order on the caller's goroutine, so
// order-dependent consumers (the line pool) never see reordered events.
type Bus struct {
	subscribers map[string][]subscription
	mutex       sync.RWMutex
	logger      zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]subscription),
		logger:      logger,
	}
}

// Subscribe registers a handler for a topic and returns a token usable
// with Unsubscribe.
func (b *Bus) Subscribe(topic string, handler Handler) string {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	id := uuid.New().String()
	b.subscribers[topic] = append(b.subscribers[topic], subscription{id: id, handler: handler})
	b.logger.Debug().Str("topic", topic).Str("subscription_id", id).Msg("Subscribed to topic")
	return id
}

func (b *Bus) Unsubscribe(topic, id string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	subs := b.subscribers[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Publish(topic string, payload any) {
	b.mutex.RLock()
	subs := make([]subscription, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mutex.RUnlock()

	for _, sub := range subs {
		sub.handler(payload)
	}
}

// SubscriberCount reports how many handlers are registered for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subscribers[topic])
}
