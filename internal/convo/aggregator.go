// Package convo derives per-user conversation summaries from the full
// message store. Summaries are never persisted: every emission is a
// fresh scan, which keeps invalidation trivial at an accepted
// O(total messages) cost.
package convo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hagglechat/haggle/internal/chat"
	"github.com/hagglechat/haggle/internal/store"
	"go.uber.org/zap"
)

// Conversation is one row of a user's conversation list.
type Conversation struct {
	Key            string `json:"key"`
	OtherParty     string `json:"other_party"`
	OtherPartyName string `json:"other_party_name,omitempty"`
	LastMessage    string `json:"last_message"`
	LastTimestamp  int64  `json:"last_timestamp"`
	ProductTitle   string `json:"product_title,omitempty"`
}

// RootFeed delivers a tick after every store-wide mutation.
type RootFeed interface {
	SubscribeRoot() (<-chan struct{}, func())
}

// Aggregator computes conversation lists for a user.
type Aggregator struct {
	db     *store.DB
	feed   RootFeed
	logger *zap.Logger
}

// NewAggregator creates an aggregator over the store.
func NewAggregator(db *store.DB, f RootFeed, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{db: db, feed: f, logger: logger}
}

// List scans every partition, keeps those the user participates in and
// that hold at least one message, and returns summaries sorted by last
// activity, most recent first.
func (a *Aggregator) List(user string) ([]Conversation, error) {
	if user == "" {
		return nil, chat.ErrEmptyIdentity
	}
	partitions, err := a.db.ListPartitions()
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var convs []Conversation
	for _, key := range partitions {
		if !chat.KeyContains(key, user) {
			continue
		}
		last, err := a.db.LatestMessage(key)
		if err != nil {
			return nil, fmt.Errorf("latest message for %s: %w", key, err)
		}
		if last == nil {
			continue
		}

		other := last.Sender
		if other == user {
			other = last.Receiver
		}

		c := Conversation{
			Key:           key,
			OtherParty:    other,
			LastMessage:   last.Body,
			LastTimestamp: last.Timestamp,
			ProductTitle:  a.productTitle(key, last),
		}
		if p, err := a.db.GetParty(other); err == nil && p != nil {
			c.OtherPartyName = p.DisplayName
		}
		convs = append(convs, c)
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].LastTimestamp > convs[j].LastTimestamp
	})
	return convs, nil
}

// productTitle pulls the product title off the last message's metadata,
// falling back to the newest offer artifact in the partition.
func (a *Aggregator) productTitle(key string, last *store.Message) string {
	if t, ok := last.Metadata["productTitle"].(string); ok && t != "" {
		return t
	}
	offer, err := a.db.LatestOfferMessage(key)
	if err != nil || offer == nil {
		return ""
	}
	if t, ok := offer.Metadata["productTitle"].(string); ok {
		return t
	}
	return ""
}

// Watch is one open conversation-list view.
type Watch struct {
	snapshots chan []Conversation
	done      chan struct{}
	cancel    func()
	closeOnce sync.Once
}

// Snapshots yields the full conversation list after every store
// mutation, starting with the current state. The channel closes when
// the watch ends.
func (w *Watch) Snapshots() <-chan []Conversation {
	return w.snapshots
}

// Close releases the watch. Idempotent, never fails.
func (w *Watch) Close() {
	w.cancel()
	w.closeOnce.Do(func() { close(w.done) })
}

// Watch opens a live conversation-list view for a user. One root
// subscription serves the view regardless of how many conversations the
// user has; each tick triggers a full re-scan.
func (a *Aggregator) Watch(ctx context.Context, user string) (*Watch, error) {
	if user == "" {
		return nil, chat.ErrEmptyIdentity
	}
	ticks, cancel := a.feed.SubscribeRoot()
	w := &Watch{
		snapshots: make(chan []Conversation, 4),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	go func() {
		defer close(w.snapshots)
		defer w.cancel()

		if !a.emit(user, w) {
			return
		}
		for {
			select {
			case _, ok := <-ticks:
				if !ok {
					return
				}
				if !a.emit(user, w) {
					return
				}
			case <-ctx.Done():
				return
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}

func (a *Aggregator) emit(user string, w *Watch) bool {
	convs, err := a.List(user)
	if err != nil {
		a.logger.Error("conversation scan failed", zap.String("user", user), zap.Error(err))
		return true // transient; keep the watch alive
	}
	select {
	case w.snapshots <- convs:
		return true
	case <-w.done:
		return false
	}
}
