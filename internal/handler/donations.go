package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"eventportal/internal/donation"
	"eventportal/internal/metrics"
)

// DonationCategories lists the categories offered on the public form.
func (h *Handler) DonationCategories(c *gin.Context) {
	h.listCategories(c, true)
}

func (h *Handler) AdminDonationCategories(c *gin.Context) {
	h.listCategories(c, false)
}

func (h *Handler) listCategories(c *gin.Context, activeOnly bool) {
	cats, err := h.Donations.ListCategories(c.Request.Context(), activeOnly)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if cats == nil {
		cats = []donation.Category{}
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

func (h *Handler) CreateDonation(c *gin.Context) {
	var in donation.CreateInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.Donations.Create(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) VerifyDonation(c *gin.Context) {
	var in donation.VerifyInput
	if !bindJSON(c, &in) {
		return
	}
	d, err := h.Donations.Verify(c.Request.Context(), in)
	if err != nil {
		metrics.Payments.WithLabelValues("donation", resultLabel(err)).Inc()
		h.respondError(c, err)
		return
	}
	metrics.Payments.WithLabelValues("donation", "captured").Inc()
	c.JSON(http.StatusOK, gin.H{"donation_id": d.ID, "status": d.Status})
}

func (h *Handler) DonationFailed(c *gin.Context) {
	var in donation.FailInput
	if !bindJSON(c, &in) {
		return
	}
	d, err := h.Donations.Fail(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"donation_id": d.ID, "status": d.Status})
}

func (h *Handler) CreateDonationCategory(c *gin.Context) {
	var in donation.CategoryInput
	if !bindJSON(c, &in) {
		return
	}
	cat, err := h.Donations.CreateCategory(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (h *Handler) UpdateDonationCategory(c *gin.Context) {
	var in donation.CategoryInput
	if !bindJSON(c, &in) {
		return
	}
	cat, err := h.Donations.UpdateCategory(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (h *Handler) ListDonations(c *gin.Context) {
	limit, offset := page(c)
	list, err := h.Donations.List(c.Request.Context(), donation.ListFilter{Status: c.Query("status"), Limit: limit, Offset: offset})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if list == nil {
		list = []donation.Donation{}
	}
	c.JSON(http.StatusOK, gin.H{"donations": list})
}
