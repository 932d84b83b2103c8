// Package events provides the in-process broadcast channel for
// ingestion progress. Delivery is best-effort: subscribers that attach
// late miss earlier events, and slow subscribers are dropped rather
// than allowed to block the publisher.
package events

import (
	"sync"
	"time"
)

// EventTypeFileProcessed is the only event type emitted by the worker.
const EventTypeFileProcessed = "file_processed"

// subscriberBuffer bounds how far a subscriber may fall behind before
// events are dropped for it.
const subscriberBuffer = 16

// FileEvent is a transient per-file completion notice. It is never
// persisted and never replayed.
type FileEvent struct {
	Type      string    `json:"type"`
	BatchID   string    `json:"batch_id"`
	Filename  string    `json:"filename"`
	Processed int       `json:"processed"`
	Timestamp time.Time `json:"timestamp"`
}

// Broker fans FileEvents out to all current subscribers.
type Broker struct {
	mu   sync.RWMutex
	subs map[chan FileEvent]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan FileEvent]struct{})}
}

// Subscribe attaches a new subscriber and returns its event channel
// along with an unsubscribe function. Unsubscribing is idempotent; the
// channel is closed once the subscriber is detached.
func (b *Broker) Subscribe() (<-chan FileEvent, func()) {
	ch := make(chan FileEvent, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish delivers ev to every attached subscriber without blocking.
// Events for subscribers with a full buffer are dropped.
func (b *Broker) Publish(ev FileEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of attached subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
