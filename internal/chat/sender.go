package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hagglechat/haggle/internal/bus"
	"github.com/hagglechat/haggle/internal/store"
	"go.uber.org/zap"
)

// ErrWriteFailed wraps store write rejections on the send path.
var ErrWriteFailed = errors.New("chat: write failed")

// FeedWriter is the slice of the store the sender needs: atomic
// set-at-key plus push-style key allocation.
type FeedWriter interface {
	SetValue(ctx context.Context, partitionKey, msgID string, m *store.Message) error
	PushKey(partitionKey string) string
}

// Sender writes messages into conversation partitions. Results are
// reported on a channel rather than blocking the caller; no write is
// retried here, retry policy belongs to the caller.
type Sender struct {
	feed   FeedWriter
	bus    *bus.Bus
	logger *zap.Logger
}

// NewSender creates a sender over the given store. The bus is optional;
// when present, successful writes are announced on it.
func NewSender(f FeedWriter, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{feed: f, bus: b, logger: logger}
}

// Send writes a plain text message from sender to the counterpart of
// buyer/seller, under a fresh store-allocated message id. The returned
// channel yields exactly one result.
func (s *Sender) Send(ctx context.Context, sender, buyer, seller, text string) <-chan error {
	result := make(chan error, 1)

	key, err := DeriveKey(buyer, seller)
	if err != nil {
		result <- err
		return result
	}
	receiver := seller
	if sender == seller {
		receiver = buyer
	}

	msg := &store.Message{
		Sender:      sender,
		Receiver:    receiver,
		Body:        text,
		MessageType: store.TypeText,
		Timestamp:   time.Now().UnixMilli(),
	}
	msgID := s.feed.PushKey(key)

	go s.write(ctx, key, msgID, msg, result)
	return result
}

// SendSpecial writes a fully-formed message at its caller-chosen id.
// An existing entry under the same id is overwritten, which is what
// makes negotiation-artifact retries idempotent.
func (s *Sender) SendSpecial(ctx context.Context, conversationKey string, msg *store.Message) <-chan error {
	result := make(chan error, 1)
	if conversationKey == "" || msg.MsgID == "" {
		result <- fmt.Errorf("%w: missing conversation key or message id", ErrWriteFailed)
		return result
	}
	go s.write(ctx, conversationKey, msg.MsgID, msg, result)
	return result
}

func (s *Sender) write(ctx context.Context, key, msgID string, msg *store.Message, result chan<- error) {
	if err := s.feed.SetValue(ctx, key, msgID, msg); err != nil {
		s.logger.Error("message write failed",
			zap.String("conversation", key),
			zap.String("msg_id", msgID),
			zap.Error(err))
		result <- fmt.Errorf("%w: %v", ErrWriteFailed, err)
		return
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Topic: bus.TopicMessageWritten,
			At:    time.Now(),
			Payload: map[string]string{
				"conversation": key,
				"msg_id":       msgID,
			},
		})
	}
	result <- nil
}
