package baseplate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Message is the payload type published on the bus. It is semantically a
// map of string to value; the bus does not inspect, copy defensively, or
// version it. Publishers must treat a published Message as logically
// immutable once Publish has been called.
type Message map[string]any

// Handler processes a single delivered Message. A handler that returns an
// error is logged and does not affect delivery to other handlers or the
// publisher's own Publish call.
type Handler func(ctx context.Context, msg Message) error

// SubscriptionID is a monotonically increasing identifier issued at
// subscribe time, used only to unsubscribe. A single handler subscribed to
// the same topic multiple times gets a distinct ID each time.
type SubscriptionID int64

// MessageBus is a topic-keyed, in-process publish/subscribe bus with
// synchronous delivery and per-handler error isolation. A single mutex
// guards the subscriber table; handlers run outside the lock so a handler
// that re-enters the bus (publish, subscribe, unsubscribe) never deadlocks
// against itself.
//
// MessageBus has no I/O and makes no cross-process or durability promises:
// it is an in-process primitive only.
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriberEntry
	index       map[SubscriptionID]string // id -> topic, for O(1) unsubscribe lookup
	nextID      atomic.Int64
	logger      Logger
}

type subscriberEntry struct {
	id      SubscriptionID
	handler Handler
}

// NewMessageBus creates an empty bus. A nil logger is replaced with a
// no-op logger.
func NewMessageBus(logger Logger) *MessageBus {
	if logger == nil {
		logger = NopLogger()
	}
	return &MessageBus{
		subscribers: make(map[string][]subscriberEntry),
		index:       make(map[SubscriptionID]string),
		logger:      logger,
	}
}

// Subscribe appends handler to topic's subscriber list, preserving
// subscription order, and returns a unique subscription id. Subscribe
// never fails.
func (b *MessageBus) Subscribe(topic string, handler Handler) SubscriptionID {
	id := SubscriptionID(b.nextID.Add(1))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], subscriberEntry{id: id, handler: handler})
	b.index[id] = topic
	return id
}

// Unsubscribe removes the subscription with the given id. It is safe to
// call from inside a handler that is itself receiving delivery: the
// in-flight delivery already snapshotted its subscriber list and will
// still invoke an entry removed here if that entry had not yet run.
// Returns true if a matching subscription was found and removed.
func (b *MessageBus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic, ok := b.index[id]
	if !ok {
		return false
	}
	delete(b.index, id)

	entries := b.subscribers[topic]
	for i, e := range entries {
		if e.id == id {
			b.subscribers[topic] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.subscribers[topic]) == 0 {
		delete(b.subscribers, topic)
	}
	return true
}

// Publish snapshots the current subscriber list for topic under the bus
// lock, then releases the lock and invokes each handler in subscription
// order on the caller's goroutine. A handler that returns an error or
// panics is logged and does not abort delivery to remaining handlers or
// propagate to the publisher. Publishing to a topic with zero subscribers
// is a no-op.
//
// Re-entrant Publish calls from inside a handler are permitted and run to
// completion before the outer delivery resumes, since each Publish only
// ever touches its own local snapshot.
func (b *MessageBus) Publish(ctx context.Context, topic string, payload Message) {
	b.mu.RLock()
	live := b.subscribers[topic]
	if len(live) == 0 {
		b.mu.RUnlock()
		return
	}
	snapshot := make([]subscriberEntry, len(live))
	copy(snapshot, live)
	b.mu.RUnlock()

	for _, entry := range snapshot {
		b.deliver(ctx, topic, entry, payload)
	}
}

func (b *MessageBus) deliver(ctx context.Context, topic string, entry subscriberEntry, payload Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked",
				"topic", topic, "subscription_id", entry.id, "panic", fmt.Sprintf("%v", r))
		}
	}()

	if err := entry.handler(ctx, payload); err != nil {
		b.logger.Error("bus handler returned error",
			"topic", topic, "subscription_id", entry.id, "error", err)
	}
}

// Topics returns the set of topics that currently have at least one
// subscriber. Intended for diagnostics and testing.
func (b *MessageBus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.subscribers))
	for topic := range b.subscribers {
		topics = append(topics, topic)
	}
	return topics
}

// SubscriberCount returns the number of subscribers currently registered
// on topic.
func (b *MessageBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
