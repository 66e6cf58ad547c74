package eventbus

import (
	"sync"

	"github.com/rs/xid"
)

// Bus is a multi-producer broadcast channel for events. Every published
// event is delivered to all current subscribers; late subscribers receive
// no history.
type Bus interface {
	// Publish delivers an event to all subscribers. It never blocks: a
	// subscriber whose buffer is full loses its oldest unread event.
	Publish(event *Event)

	// Subscribe registers a new subscriber and returns its event channel
	// together with a cancel function. The channel is closed on cancel
	// and on bus Close.
	Subscribe() (<-chan *Event, func())

	// Close releases all subscribers
	Close()
}

// subscription represents a single subscriber
type subscription struct {
	id string
	ch chan *Event
}

// InMemoryBus is an in-memory implementation of the event bus
type InMemoryBus struct {
	mu         sync.Mutex
	subs       map[string]*subscription
	bufferSize int
	closed     bool
}

// NewInMemoryBus creates a new in-memory event bus. bufferSize is the
// per-subscriber channel capacity.
func NewInMemoryBus(bufferSize int) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &InMemoryBus{
		subs:       make(map[string]*subscription),
		bufferSize: bufferSize,
	}
}

// Publish implements Bus
func (b *InMemoryBus) Publish(event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		for {
			select {
			case sub.ch <- event:
			default:
				// Buffer full: drop the oldest unread event and retry.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe implements Bus
func (b *InMemoryBus) Subscribe() (<-chan *Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id: xid.New().String(),
		ch: make(chan *Event, b.bufferSize),
	}

	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	b.subs[sub.id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			close(s.ch)
		}
	}

	return sub.ch, cancel
}

// Close implements Bus
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
