package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) daemonStatus(c *gin.Context) {
	messages, err := h.db.MessageCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	offers, err := h.db.OfferCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state":    h.machine.Current(),
		"messages": messages,
		"offers":   offers,
	})
}
