package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hagglechat/haggle/internal/store"
	"go.uber.org/zap"
)

type sendMessageRequest struct {
	ClientMsgID string `json:"client_msg_id"`
	Sender      string `json:"sender" binding:"required"`
	Buyer       string `json:"buyer" binding:"required"`
	Seller      string `json:"seller" binding:"required"`
	Text        string `json:"text" binding:"required"`
}

// sendMessage queues a plain text send on the outbox. The write result
// arrives later on the bus; the call itself never blocks on the store.
func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Sender != req.Buyer && req.Sender != req.Seller {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender must be buyer or seller"})
		return
	}

	clientMsgID := req.ClientMsgID
	if clientMsgID == "" {
		clientMsgID = uuid.New().String()
	}
	if err := h.db.QueueOutbox(clientMsgID, req.Sender, req.Buyer, req.Seller, req.Text); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "client_msg_id": clientMsgID})
}

type messageView struct {
	MsgID       string         `json:"msg_id"`
	Sender      string         `json:"sender"`
	Receiver    string         `json:"receiver"`
	Body        string         `json:"body"`
	MessageType string         `json:"message_type"`
	OfferID     string         `json:"offer_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

func toMessageView(m *store.Message) messageView {
	return messageView{
		MsgID:       m.MsgID,
		Sender:      m.Sender,
		Receiver:    m.Receiver,
		Body:        m.Body,
		MessageType: m.MessageType,
		OfferID:     m.OfferID,
		Metadata:    m.Metadata,
		Timestamp:   m.Timestamp,
	}
}

func (h *Handler) listMessages(c *gin.Context) {
	key := c.Param("key")
	afterTs, _ := strconv.ParseInt(c.Query("after"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))

	msgs, err := h.db.ListMessages(key, afterTs, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]messageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, toMessageView(&msgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

// watchConversation streams ordered snapshots of one conversation as
// server-sent events until the client disconnects.
func (h *Handler) watchConversation(c *gin.Context) {
	key := c.Param("key")
	sub, err := h.sync.Subscribe(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer sub.Close()

	c.Stream(func(_ io.Writer) bool {
		snapshot, ok := <-sub.Snapshots()
		if !ok {
			if sub.Err() != nil {
				h.logger.Warn("watch stream ended by store",
					zap.String("conversation", key), zap.Error(sub.Err()))
			}
			return false
		}
		views := make([]messageView, 0, len(snapshot))
		for i := range snapshot {
			views = append(views, toMessageView(&snapshot[i]))
		}
		c.SSEvent("snapshot", views)
		return true
	})
}

func (h *Handler) searchMessages(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing q parameter"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	results, err := h.db.SearchMessages(query, c.Query("key"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type resultView struct {
		Message messageView `json:"message"`
		Snippet string      `json:"snippet"`
	}
	views := make([]resultView, 0, len(results))
	for i := range results {
		views = append(views, resultView{
			Message: toMessageView(&results[i].Message),
			Snippet: results[i].Snippet,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": views})
}
