package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe bus with topic-prefix filtering.
// Delivery is best effort: a subscriber whose buffer is full misses the
// event. Anything that must not be lost goes through the change feed in
// internal/feed, not the bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Topic.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Topic, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			// Subscriber is not keeping up; drop.
		}
	}
}

// Subscribe registers a subscriber for topics starting with prefix.
// The returned func unregisters it; calling it more than once is safe.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
