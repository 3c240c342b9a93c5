package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hagglechat/haggle/internal/negotiate"
	"github.com/hagglechat/haggle/internal/store"
)

type createOfferRequest struct {
	ProductID     string  `json:"product_id" binding:"required"`
	Buyer         string  `json:"buyer" binding:"required"`
	Seller        string  `json:"seller" binding:"required"`
	OriginalPrice float64 `json:"original_price"`
	OfferedPrice  float64 `json:"offered_price" binding:"required"`
	Note          string  `json:"note"`
	ProductTitle  string  `json:"product_title"`
}

func (h *Handler) createOffer(c *gin.Context) {
	var req createOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	offerID, err := h.offers.CreateOffer(c.Request.Context(), negotiate.CreateParams{
		ProductID:     req.ProductID,
		Buyer:         req.Buyer,
		Seller:        req.Seller,
		OriginalPrice: req.OriginalPrice,
		OfferedPrice:  req.OfferedPrice,
		Note:          req.Note,
		ProductTitle:  req.ProductTitle,
	})
	if err != nil {
		c.JSON(offerErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"offer_id": offerID})
}

type respondOfferRequest struct {
	Accepted *bool `json:"accepted" binding:"required"`
}

func (h *Handler) respondOffer(c *gin.Context) {
	var req respondOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.offers.Respond(c.Request.Context(), c.Param("id"), *req.Accepted); err != nil {
		c.JSON(offerErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true})
}

func (h *Handler) getOffer(c *gin.Context) {
	offer, err := h.offers.GetOffer(c.Param("id"))
	if err != nil {
		c.JSON(offerErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": offer})
}

func (h *Handler) listOffers(c *gin.Context) {
	var (
		offers []store.PriceOffer
		err    error
	)
	switch {
	case c.Query("product_id") != "":
		offers, err = h.offers.ListByProduct(c.Query("product_id"))
	case c.Query("buyer") != "":
		offers, err = h.offers.ListByBuyer(c.Query("buyer"))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing product_id or buyer parameter"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if offers == nil {
		offers = []store.PriceOffer{}
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

func offerErrStatus(err error) int {
	switch {
	case errors.Is(err, negotiate.ErrOfferNotFound):
		return http.StatusNotFound
	case errors.Is(err, negotiate.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
