package api

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type eventEnvelope struct {
	EventID    string `json:"event_id"`
	Topic      string `json:"topic"`
	OccurredAt int64  `json:"occurred_at_unix_ms"`
}

// streamEvents relays bus events matching a topic prefix as SSE. Bus
// delivery is best effort; a slow client misses events rather than
// backing up the daemon.
func (h *Handler) streamEvents(c *gin.Context) {
	prefix := c.DefaultQuery("prefix", "message.")
	ch, unsub := h.bus.Subscribe(prefix, 64)
	defer unsub()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case evt := <-ch:
			c.SSEvent("event", eventEnvelope{
				EventID:    uuid.New().String(),
				Topic:      evt.Topic,
				OccurredAt: evt.At.UnixMilli(),
			})
			return true
		case <-ctx.Done():
			return false
		}
	})
}
