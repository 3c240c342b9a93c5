package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/hagglechat/haggle/internal/feed"
	"github.com/hagglechat/haggle/internal/store"
	"go.uber.org/zap"
)

// Feed is the slice of the store the synchronizer needs.
type Feed interface {
	SubscribeChild(partitionKey string) (<-chan feed.ChildEvent, func())
}

// Synchronizer turns a partition's raw change feed into a sequence of
// full ordered snapshots.
type Synchronizer struct {
	feed   Feed
	logger *zap.Logger
}

// NewSynchronizer creates a synchronizer over the given feed.
func NewSynchronizer(f Feed, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{feed: f, logger: logger}
}

// Subscription is one open conversation view. Snapshots() yields the
// full ordered message list after every mutation; the channel closes
// when the subscription ends, and Err() reports why (nil for a caller
// Close or context cancellation, feed.ErrClosed when the store shut the
// feed down).
type Subscription struct {
	snapshots chan []store.Message
	done      chan struct{}
	cancel    func()
	closeOnce sync.Once
	err       error
}

// Snapshots returns the ordered-snapshot channel.
func (s *Subscription) Snapshots() <-chan []store.Message {
	return s.snapshots
}

// Err reports the terminal error after Snapshots() has closed.
func (s *Subscription) Err() error {
	return s.err
}

// Close releases the subscription. Idempotent, never fails. In-flight
// writes already submitted to the store are not affected.
func (s *Subscription) Close() {
	s.cancel()
	s.closeOnce.Do(func() { close(s.done) })
}

// Subscribe opens an ordered view of one conversation partition. A
// single goroutine owns the buffer, so all mutations for this view are
// serialized; independent subscriptions share nothing.
func (s *Synchronizer) Subscribe(ctx context.Context, conversationKey string) (*Subscription, error) {
	if conversationKey == "" {
		return nil, ErrEmptyIdentity
	}
	events, cancel := s.feed.SubscribeChild(conversationKey)
	sub := &Subscription{
		snapshots: make(chan []store.Message, 8),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	go s.run(ctx, conversationKey, events, sub)
	return sub, nil
}

func (s *Synchronizer) run(ctx context.Context, key string, events <-chan feed.ChildEvent, sub *Subscription) {
	defer close(sub.snapshots)
	defer sub.cancel()

	var buffer []store.Message
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				// Store terminated the feed. Terminal; resubscription
				// is the caller's call.
				sub.err = feed.ErrClosed
				s.logger.Warn("conversation feed closed by store", zap.String("conversation", key))
				return
			}
			buffer = apply(buffer, evt)
			if !emit(ctx, sub, buffer) {
				return
			}
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		}
	}
}

// apply folds one change event into the ordered buffer. Every event
// yields a snapshot, including removes of unknown ids and updates that
// match nothing; those leave the content unchanged. The feed is
// at-least-once, so an Added for a known id folds as a replace instead
// of duplicating the message.
func apply(buffer []store.Message, evt feed.ChildEvent) []store.Message {
	switch evt.Type {
	case feed.Added:
		known := false
		for i := range buffer {
			if buffer[i].MsgID == evt.Message.MsgID {
				buffer[i] = evt.Message
				known = true
				break
			}
		}
		if !known {
			buffer = append(buffer, evt.Message)
		}
		sortByTimestamp(buffer)
	case feed.Changed:
		for i := range buffer {
			if buffer[i].MsgID == evt.Message.MsgID {
				buffer[i] = evt.Message
				sortByTimestamp(buffer)
				break
			}
		}
	case feed.Removed:
		kept := buffer[:0]
		for _, m := range buffer {
			if m.MsgID != evt.Message.MsgID {
				kept = append(kept, m)
			}
		}
		buffer = kept
	}
	return buffer
}

// sortByTimestamp orders ascending by client timestamp. The sort is
// stable so equal timestamps keep their arrival order at this
// subscriber.
func sortByTimestamp(msgs []store.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}

// emit sends a copy of the buffer downstream. Returns false when the
// subscription ended, or its context was cancelled, before the send
// completed.
func emit(ctx context.Context, sub *Subscription, buffer []store.Message) bool {
	snapshot := make([]store.Message, len(buffer))
	copy(snapshot, buffer)
	select {
	case sub.snapshots <- snapshot:
		return true
	case <-ctx.Done():
		return false
	case <-sub.done:
		return false
	}
}
