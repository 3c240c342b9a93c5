// Package api exposes the daemon's HTTP+JSON surface over the profile
// socket: imperative sends and offer calls, conversation projections,
// and SSE watch streams.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/hagglechat/haggle/internal/bus"
	"github.com/hagglechat/haggle/internal/chat"
	"github.com/hagglechat/haggle/internal/convo"
	"github.com/hagglechat/haggle/internal/negotiate"
	"github.com/hagglechat/haggle/internal/status"
	"github.com/hagglechat/haggle/internal/store"
	"go.uber.org/zap"
)

// Handler bundles the collaborators behind the HTTP surface.
type Handler struct {
	db      *store.DB
	sync    *chat.Synchronizer
	agg     *convo.Aggregator
	offers  *negotiate.Service
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(db *store.DB, sync *chat.Synchronizer, agg *convo.Aggregator,
	offers *negotiate.Service, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		db: db, sync: sync, agg: agg, offers: offers,
		machine: machine, bus: b, logger: logger,
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	{
		v1.POST("/messages", h.sendMessage)
		v1.GET("/conversations", h.listConversations)
		v1.GET("/conversations/:key/messages", h.listMessages)
		v1.GET("/conversations/:key/watch", h.watchConversation)
		v1.POST("/offers", h.createOffer)
		v1.POST("/offers/:id/response", h.respondOffer)
		v1.GET("/offers/:id", h.getOffer)
		v1.GET("/offers", h.listOffers)
		v1.PUT("/parties/:identity", h.upsertParty)
		v1.GET("/parties/:identity", h.getParty)
		v1.GET("/search", h.searchMessages)
		v1.GET("/events", h.streamEvents)
		v1.GET("/status", h.daemonStatus)
	}
	return router
}
