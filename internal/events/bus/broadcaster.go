// Package bus provides the in-process event fan-out: a bounded
// multi-subscriber broadcaster and an optional NATS mirror.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/opengate/opengate/internal/events"
)

// DefaultBuffer is the minimum per-subscriber channel capacity.
const DefaultBuffer = 1024

// Broadcaster fans events out to subscribers over bounded channels.
// Publish never blocks: a subscriber that cannot keep up drops events and
// accumulates a lag count it can observe and report.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int64]*Subscription
	nextID int64
	buffer int
	closed bool
}

// Subscription is one subscriber's bounded queue on the broadcaster.
type Subscription struct {
	id     int64
	ch     chan *events.Event
	lagged atomic.Int64
	b      *Broadcaster
	once   sync.Once
}

// NewBroadcaster creates a broadcaster with the given per-subscriber
// buffer. Buffers below DefaultBuffer are raised to it.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < DefaultBuffer {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subs:   make(map[int64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. Returns nil if the broadcaster is
// closed.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.nextID++
	sub := &Subscription{
		id: b.nextID,
		ch: make(chan *events.Event, b.buffer),
		b:  b,
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers the event to every subscriber without blocking. A full
// subscriber queue counts as a drop for that subscriber only.
func (b *Broadcaster) Publish(evt *events.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.lagged.Add(1)
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the broadcaster down and closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// remove detaches a subscription. The channel is closed only after the
// subscription is out of the map, so no Publish can race the close.
func (b *Broadcaster) remove(id int64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// C returns the subscription's receive channel. It is closed when the
// subscription or the broadcaster closes.
func (s *Subscription) C() <-chan *events.Event {
	return s.ch
}

// TakeLagged returns the number of events dropped since the last call and
// resets the counter, so the subscriber can emit a one-shot lag notice.
func (s *Subscription) TakeLagged() int64 {
	return s.lagged.Swap(0)
}

// Close detaches the subscription from the broadcaster. Safe to call more
// than once and concurrently with Publish.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.remove(s.id)
	})
}
