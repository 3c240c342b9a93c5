package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hagglechat/haggle/internal/store"
)

type upsertPartyRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

// upsertParty registers or renames a directory entry. Conversation
// listings decorate the other party with this name.
func (h *Handler) upsertParty(c *gin.Context) {
	identity := c.Param("identity")
	var req upsertPartyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := &store.Party{Identity: identity, DisplayName: req.DisplayName}
	if err := h.db.UpsertParty(p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity, "display_name": req.DisplayName})
}

func (h *Handler) getParty(c *gin.Context) {
	p, err := h.db.GetParty(c.Param("identity"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "party not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": p.Identity, "display_name": p.DisplayName})
}
