package events

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/agentcoord/kernel/internal/clock"
)

// ringSize is the bound on the replay buffer.
const ringSize = 500

// subscriberBuffer is the per-subscriber outbound channel capacity. A full
// channel means a slow subscriber; its next event is dropped rather than
// blocking the publisher.
const subscriberBuffer = 64

// subscriber is one live listener.
type subscriber struct {
	id string
	ch chan Event
}

// Bus is the kernel's event fan-out. Publish is called under the
// kernel's single write lock; Bus itself also holds a lock to protect
// the ring buffer and subscriber set from concurrent Subscribe/Unsubscribe.
type Bus struct {
	clock clock.Clock

	mu          sync.Mutex
	ring        []Event
	subscribers map[string]*subscriber

	dropped uint64
}

// NewBus creates an empty event bus.
func NewBus(c clock.Clock) *Bus {
	return &Bus{
		clock:       c,
		ring:        make([]Event, 0, ringSize),
		subscribers: make(map[string]*subscriber),
	}
}

// Publish assigns ts, appends to the ring buffer (dropping the oldest entry
// once full), and enqueues the event to every live subscriber in FIFO
// order. A subscriber whose channel is full is skipped for this event only.
func (b *Bus) Publish(e Event) Event {
	e.Ts = b.clock.NowMillis()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring = append(b.ring, e)
	if len(b.ring) > ringSize {
		b.ring = b.ring[len(b.ring)-ringSize:]
	}

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- e:
		default:
			atomic.AddUint64(&b.dropped, 1)
			log.Printf("[EVENTS] dropped event type=%s id=%s for subscriber=%s (channel full)", e.Type, e.ID, sub.id)
		}
	}

	return e
}

// Subscribe registers a new live subscriber and returns its receive
// channel. The subscriber immediately receives a synthetic hello event
// but does not receive the ring buffer; callers fetch Recent
// explicitly.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{id: id, ch: make(chan Event, subscriberBuffer)}
	b.subscribers[id] = sub

	hello := Event{ID: id, Type: TypeHello, Ts: b.clock.NowMillis()}
	select {
	case sub.ch <- hello:
	default:
	}

	return sub.ch
}

// Unsubscribe removes and closes a subscriber's channel. No further events
// are enqueued for it; events already buffered in the channel stay readable
// until the receiver drains it and sees the close.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.ch)
}

// Recent returns a copy of the last n events in publish order (n <= 500).
// Callers (e.g. a newly reconnecting dashboard) fetch this explicitly;
// it is never pushed automatically to a subscriber.
func (b *Bus) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > len(b.ring) {
		n = len(b.ring)
	}
	start := len(b.ring) - n
	out := make([]Event, n)
	copy(out, b.ring[start:])
	return out
}

// DroppedCount returns the number of events dropped due to full subscriber
// channels, for observability.
func (b *Bus) DroppedCount() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// SubscriberCount returns the current number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
