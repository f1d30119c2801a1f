package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel depth. Output events are
// high-frequency; a full channel drops rather than blocks.
const subscriberBuffer = 256

// Subscriber receives events on C until Close (or bus Unsubscribe).
type Subscriber struct {
	ID string
	C  <-chan Event

	bus *Bus
	ch  chan Event
}

// Close detaches the subscriber from the bus and closes its channel.
func (s *Subscriber) Close() {
	s.bus.unsubscribe(s.ID)
}

// Bus is the in-process event bus. Publish never blocks on subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	dropped     atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*Subscriber)}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscriber {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscriber{
		ID:  uuid.NewString(),
		C:   ch,
		bus: b,
		ch:  ch,
	}
	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish fans an event out to every subscriber. Subscribers whose channel
// is full miss the event; the drop is counted and logged at a low rate.
func (b *Bus) Publish(name, workerID string, payload any) {
	evt := Event{
		Name:      name,
		WorkerID:  workerID,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- evt:
		default:
			dropped := b.dropped.Add(1)
			if dropped%100 == 1 {
				slog.Warn("Event bus dropping events for slow subscriber",
					"subscriber_id", sub.ID, "event", name, "total_dropped", dropped)
			}
		}
	}
}

// SubscriberCount returns the number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
