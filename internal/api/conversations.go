package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hagglechat/haggle/internal/convo"
)

func (h *Handler) listConversations(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user parameter"})
		return
	}

	convs, err := h.agg.List(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if convs == nil {
		convs = []convo.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}
