// Package events implements the daemon's one-to-many push channel. Stage
// code publishes tagged records after store commits; the WebSocket bridge
// and tests subscribe.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"engram/internal/logging"
)

// Subscription is an opaque handle to one subscriber's ordered event feed.
type Subscription struct {
	id     uuid.UUID
	ch     chan Envelope
	closed bool
}

// Events returns the subscriber's receive channel. The channel is closed
// when the subscription is cancelled or dropped for falling behind.
func (s *Subscription) Events() <-chan Envelope {
	return s.ch
}

// ID returns the subscription identifier, useful in logs.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Broadcaster fans messages out to subscribers. Delivery is best-effort and
// at-most-once: a subscriber whose buffer is full is dropped rather than
// allowed to block delivery to the others.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	logger *slog.Logger
}

// DefaultBuffer is the per-subscriber queue depth used by SubscribeDefault.
const DefaultBuffer = 64

// New creates a Broadcaster.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broadcaster{
		subs:   make(map[uuid.UUID]*Subscription),
		logger: logging.NewComponentLogger(logger, "events"),
	}
}

// Subscribe registers a new subscriber with the given buffer depth.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{
		id: uuid.New(),
		ch: make(chan Envelope, buffer),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// SubscribeDefault registers a subscriber with the default buffer depth.
func (b *Broadcaster) SubscribeDefault() *Subscription {
	return b.Subscribe(DefaultBuffer)
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call for
// a subscription that was already dropped.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub)
}

// remove must be called with b.mu held.
func (b *Broadcaster) remove(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Publish delivers a message to every live subscriber. Subscribers that
// cannot accept the message immediately are removed; publication never
// blocks on a slow consumer.
func (b *Broadcaster) Publish(msg Message) {
	if msg == nil {
		return
	}
	envelope := Envelope{
		Type:      msg.EventType(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   msg,
	}

	// Delivery is a non-blocking send, so holding the lock here is cheap
	// and rules out racing a concurrent Unsubscribe's channel close.
	b.mu.Lock()
	var dropped []*Subscription
	for _, sub := range b.subs {
		select {
		case sub.ch <- envelope:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		b.remove(sub)
		b.logger.Warn("dropped slow subscriber",
			logging.String("subscriber", sub.id.String()),
			logging.String(logging.FieldEventType, envelope.Type))
	}
	b.mu.Unlock()
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscriber, closing their channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	b.subs = make(map[uuid.UUID]*Subscription)
}
