// Package outbox drains queued plain-text sends through the chat write
// path. Queued rows survive restarts; failures are marked and surfaced
// on the bus, never retried here.
package outbox

import (
	"context"
	"time"

	"github.com/hagglechat/haggle/internal/bus"
	"github.com/hagglechat/haggle/internal/store"
	"go.uber.org/zap"
)

// ChatSender is the asynchronous conversation write path.
type ChatSender interface {
	Send(ctx context.Context, sender, buyer, seller, text string) <-chan error
}

// Sender drains the outbox table through the chat sender.
type Sender struct {
	db     *store.DB
	sender ChatSender
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewSender creates an outbox sender.
func NewSender(db *store.DB, sender ChatSender, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{db: db, sender: sender, bus: b, logger: logger}
}

// Start begins polling the outbox for queued messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		if err := <-s.sender.Send(ctx, entry.Sender, entry.Buyer, entry.Seller, entry.Body); err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			s.bus.Publish(bus.Event{
				Topic: bus.TopicMessageSendErr,
				At:    time.Now(),
				Payload: map[string]string{
					"client_msg_id": entry.ClientMsgID,
					"error":         err.Error(),
				},
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID))
		s.bus.Publish(bus.Event{
			Topic:   bus.TopicMessageSendAck,
			At:      time.Now(),
			Payload: map[string]string{"client_msg_id": entry.ClientMsgID},
		})
	}
}
