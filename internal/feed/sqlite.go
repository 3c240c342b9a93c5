package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hagglechat/haggle/internal/store"
	"go.uber.org/zap"
)

// SQLiteStore is the local change-feed store: writes land in haggle.db
// and are fanned out to partition and root subscribers. It honors the
// same contract a remote store would: at-least-once, in-order child
// events per partition, atomic set-at-key writes, push-style key
// allocation.
type SQLiteStore struct {
	db     *store.DB
	logger *zap.Logger

	mu        sync.Mutex
	closed    bool
	nextID    int
	childSubs map[string]map[int]*childQueue
	rootSubs  map[int]*rootQueue
}

// NewSQLiteStore wraps an opened, migrated database.
func NewSQLiteStore(db *store.DB, logger *zap.Logger) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{
		db:        db,
		logger:    logger,
		childSubs: make(map[string]map[int]*childQueue),
		rootSubs:  make(map[int]*rootQueue),
	}
}

// PushKey allocates a fresh unique message id for a partition.
func (s *SQLiteStore) PushKey(partitionKey string) string {
	_ = partitionKey // ids are globally unique, the partition is part of the row key
	return uuid.New().String()
}

// SetValue writes a message at an exact (partition, msgID) key,
// overwriting any previous value, then notifies subscribers. The event
// type reflects whether the key existed before the write.
func (s *SQLiteStore) SetValue(ctx context.Context, partitionKey, msgID string, m *store.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	m.PartitionKey = partitionKey
	m.MsgID = msgID
	existed, err := s.db.UpsertMessage(m)
	if err != nil {
		return fmt.Errorf("set value %s/%s: %w", partitionKey, msgID, err)
	}

	typ := Added
	if existed {
		typ = Changed
	}
	s.publish(partitionKey, ChildEvent{Type: typ, Message: *m})
	return nil
}

// Remove deletes a message key. Removing a key that does not exist is
// not an error and produces no event.
func (s *SQLiteStore) Remove(ctx context.Context, partitionKey, msgID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deleted, err := s.db.DeleteMessage(partitionKey, msgID)
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", partitionKey, msgID, err)
	}
	if deleted {
		s.publish(partitionKey, ChildEvent{
			Type:    Removed,
			Message: store.Message{PartitionKey: partitionKey, MsgID: msgID},
		})
	}
	return nil
}

// SubscribeChild opens the change feed for one partition. The stored
// history of the partition is replayed first as Added events, then live
// events arrive in publish order; nothing is dropped. Delivery is
// at-least-once: a write racing the replay read can surface both in the
// replay and as a live event. The cancel func releases the
// subscription; it is idempotent and safe on teardown paths. The event
// channel closes only when the store itself shuts down.
func (s *SQLiteStore) SubscribeChild(partitionKey string) (<-chan ChildEvent, func()) {
	q := newChildQueue()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		q.markClosed()
		return q.out, q.cancel
	}
	id := s.nextID
	s.nextID++
	if s.childSubs[partitionKey] == nil {
		s.childSubs[partitionKey] = make(map[int]*childQueue)
	}
	s.childSubs[partitionKey][id] = q

	// Replay under the lock: concurrent publishes wait until the
	// history is queued, so live events always land after it.
	history, err := s.db.AllMessages(partitionKey)
	if err != nil {
		s.logger.Error("history replay failed",
			zap.String("partition", partitionKey), zap.Error(err))
	}
	for i := range history {
		q.push(ChildEvent{Type: Added, Message: history[i]})
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.childSubs[partitionKey], id)
			s.mu.Unlock()
			q.cancel()
		})
	}
	return q.out, cancel
}

// SubscribeRoot returns a tick channel that fires after every store-wide
// mutation. The channel closes when the store shuts down.
func (s *SQLiteStore) SubscribeRoot() (<-chan struct{}, func()) {
	q := newRootQueue()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		q.markClosed()
		return q.tick, func() {}
	}
	id := s.nextID
	s.nextID++
	s.rootSubs[id] = q
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.rootSubs, id)
			s.mu.Unlock()
		})
	}
	return q.tick, cancel
}

// Close terminates every open feed. Subscribers observe the closure as
// a terminal end of their event channels.
func (s *SQLiteStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var children []*childQueue
	for _, subs := range s.childSubs {
		for _, q := range subs {
			children = append(children, q)
		}
	}
	var roots []*rootQueue
	for _, q := range s.rootSubs {
		roots = append(roots, q)
	}
	s.childSubs = make(map[string]map[int]*childQueue)
	s.rootSubs = make(map[int]*rootQueue)
	s.mu.Unlock()

	for _, q := range children {
		q.markClosed()
	}
	for _, q := range roots {
		q.markClosed()
	}
	s.logger.Info("change feeds closed",
		zap.Int("child_subs", len(children)),
		zap.Int("root_subs", len(roots)))
}

// publish fans an event out under the lock so that per-partition event
// order matches write order for every subscriber.
func (s *SQLiteStore) publish(partitionKey string, evt ChildEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, q := range s.childSubs[partitionKey] {
		q.push(evt)
	}
	for _, q := range s.rootSubs {
		q.notify()
	}
}
