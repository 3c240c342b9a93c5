package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hagglechat/haggle/internal/bus"
	"github.com/hagglechat/haggle/internal/store"
)

type fakeChatSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (f *fakeChatSender) Send(ctx context.Context, sender, buyer, seller, text string) <-chan error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	fail := f.fail
	f.mu.Unlock()

	ch := make(chan error, 1)
	if fail {
		ch <- errors.New("connection lost")
	} else {
		ch <- nil
	}
	return ch
}

func (f *fakeChatSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDrainsQueuedEntries(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox("c1", "a@x.com", "a@x.com", "b@x.com", "hi"); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	acks, cancel := b.Subscribe(bus.TopicMessageSendAck, 4)
	defer cancel()

	chat := &fakeChatSender{}
	s := NewSender(db, chat, b, nil)
	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-acks:
		payload := evt.Payload.(map[string]string)
		if payload["client_msg_id"] != "c1" {
			t.Errorf("ack for %q, want c1", payload["client_msg_id"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for send ack")
	}

	if chat.sentCount() != 1 {
		t.Errorf("sent %d messages, want 1", chat.sentCount())
	}
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("entries still pending after drain: %v", pending)
	}
}

func TestFailedSendMarksEntry(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox("c1", "a@x.com", "a@x.com", "b@x.com", "hi"); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	errs, cancel := b.Subscribe(bus.TopicMessageSendErr, 4)
	defer cancel()

	s := NewSender(db, &fakeChatSender{fail: true}, b, nil)
	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-errs:
		payload := evt.Payload.(map[string]string)
		if payload["error"] == "" {
			t.Error("failure event carries no error message")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for failure event")
	}

	// Failed entries leave the queue; there is no retry here.
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("failed entry still pending: %v", pending)
	}
}

func TestStopHaltsLoop(t *testing.T) {
	db := testDB(t)
	chat := &fakeChatSender{}
	s := NewSender(db, chat, bus.New(), nil)
	s.Start(context.Background())
	s.Stop()

	if err := db.QueueOutbox("c1", "a@x.com", "a@x.com", "b@x.com", "hi"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(700 * time.Millisecond)
	if chat.sentCount() != 0 {
		t.Errorf("stopped sender still sent %d messages", chat.sentCount())
	}
}
