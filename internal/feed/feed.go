// Package feed exposes conversation partitions as change feeds: every
// mutation of a partition is delivered, in order and without loss, to
// each subscriber of that partition. This is the durable-store contract
// the synchronizer and aggregator are written against.
package feed

import (
	"errors"
	"sync"

	"github.com/hagglechat/haggle/internal/store"
)

// ErrClosed is the terminal error for feeds whose store has shut down.
var ErrClosed = errors.New("feed: store closed")

// EventType classifies a child-level change.
type EventType string

const (
	Added   EventType = "added"
	Changed EventType = "changed"
	Removed EventType = "removed"
)

// ChildEvent is one mutation inside a partition. For Removed events only
// PartitionKey and MsgID of the message are meaningful.
type ChildEvent struct {
	Type    EventType
	Message store.Message
}

// childQueue delivers events to a single subscriber in publish order.
// The pending slice is unbounded so a slow consumer delays itself, never
// the publisher, and never loses an event.
type childQueue struct {
	mu      sync.Mutex
	pending []ChildEvent
	closed  bool
	wake    chan struct{}
	out     chan ChildEvent
	done    chan struct{}
	once    sync.Once
}

func newChildQueue() *childQueue {
	q := &childQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan ChildEvent),
		done: make(chan struct{}),
	}
	go q.drain()
	return q
}

func (q *childQueue) push(evt ChildEvent) {
	q.mu.Lock()
	q.pending = append(q.pending, evt)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// markClosed closes the out channel after all pending events are drained.
func (q *childQueue) markClosed() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *childQueue) cancel() {
	q.once.Do(func() { close(q.done) })
}

func (q *childQueue) drain() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					close(q.out)
					return
				}
				break
			}
			evt := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()

			select {
			case q.out <- evt:
			case <-q.done:
				return
			}
		}
	}
}

// rootQueue coalesces store-wide change ticks for the aggregator. A tick
// that arrives while one is already pending collapses into it, which is
// fine because consumers re-scan the whole store on every tick anyway.
// The tick channel is closed when the store shuts down.
type rootQueue struct {
	mu     sync.Mutex
	closed bool
	tick   chan struct{}
}

func newRootQueue() *rootQueue {
	return &rootQueue{tick: make(chan struct{}, 1)}
}

func (q *rootQueue) notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.tick <- struct{}{}:
	default:
	}
}

func (q *rootQueue) markClosed() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tick)
	}
}
