// Package events provides real-time event delivery: an in-process
// per-session bus with ordered fan-out, and the WebSocket connection
// manager that bridges bus subscriptions to clients.
//
// Delivery contract: events reach each subscriber in publish order for its
// session. Publish never blocks: a subscriber whose queue is full is
// dropped (its channel closed) rather than allowed to back-pressure the
// producer. Streamed events are best-effort; durable state lives in the
// session store and is replayed via catchup on reconnect.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// defaultQueueSize bounds each subscriber's event queue.
const defaultQueueSize = 256

// Subscription is a receive handle for one subscriber of a session.
type Subscription struct {
	id        string
	sessionID string
	ch        chan models.ChatEvent
	bus       *Bus
	closeOnce sync.Once
}

// C returns the receive channel. It is closed when the subscription is
// cancelled or the subscriber is dropped for being slow.
func (s *Subscription) C() <-chan models.ChatEvent { return s.ch }

// Close removes the subscription from the bus. Idempotent.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus is the per-session publisher/subscriber map.
type Bus struct {
	mu        sync.Mutex
	sessions  map[string]map[string]*Subscription
	queueSize int
}

// NewBus creates a Bus. queueSize <= 0 uses the default.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{
		sessions:  make(map[string]map[string]*Subscription),
		queueSize: queueSize,
	}
}

// Subscribe registers a new subscriber for a session.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		id:        uuid.New().String(),
		sessionID: sessionID,
		ch:        make(chan models.ChatEvent, b.queueSize),
		bus:       b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.sessions[sessionID]
	if !ok {
		subs = make(map[string]*Subscription)
		b.sessions[sessionID] = subs
	}
	subs[sub.id] = sub
	return sub
}

// Publish delivers an event to every subscriber of the session, in publish
// order, without blocking. Slow subscribers are dropped. The event's
// timestamp is stamped if unset.
func (b *Bus) Publish(sessionID string, ev models.ChatEvent) {
	ev.SessionID = sessionID
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}

	// Enqueue under the lock so concurrent publishers cannot interleave
	// differently across subscribers of the same session.
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	for id, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			// Queue full: drop the subscriber, never the producer.
			slog.Warn("Dropping slow event subscriber",
				"session_id", sessionID, "subscriber_id", id)
			delete(subs, id)
			sub.closeOnce.Do(func() { close(sub.ch) })
		}
	}
	if len(subs) == 0 {
		delete(b.sessions, sessionID)
	}
}

// SubscriberCount returns the number of active subscribers for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions[sessionID])
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.sessions[sub.sessionID]; ok {
		if _, present := subs[sub.id]; present {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(b.sessions, sub.sessionID)
			}
		}
	}
	sub.closeOnce.Do(func() { close(sub.ch) })
}
