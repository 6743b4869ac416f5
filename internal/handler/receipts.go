package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"eventportal/internal/donation"
	"eventportal/internal/receiptimg"
	"eventportal/internal/token"
)

// Receipt returns the aggregated registration receipt for ?token=<id>.
func (h *Handler) Receipt(c *gin.Context) {
	id := strings.TrimSpace(c.Query("token"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no token id provided"})
		return
	}
	rc, err := h.Tokens.Receipt(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rc)
}

func (h *Handler) ReceiptImage(c *gin.Context) {
	rc, err := h.Tokens.Receipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	data, err := token.ReceiptPNG(rc, h.PortalName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}

// Barcode renders a token code as CODE128.
func (h *Handler) Barcode(c *gin.Context) {
	code, err := token.DecodeScan(c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	data, err := receiptimg.BarcodePNG(code, 300, 80)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", data)
}

// DonationReceipt returns the public donation receipt for ?id=<id>.
func (h *Handler) DonationReceipt(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no donation id provided"})
		return
	}
	v, err := h.Donations.Receipt(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) DonationReceiptImage(c *gin.Context) {
	v, err := h.Donations.Receipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	data, err := donation.ReceiptPNG(v, h.PortalName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}
