package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eventportal/internal/event"
	"eventportal/internal/registration"
	"eventportal/internal/storage"
)

type presignRequest struct {
	ContentType string `json:"content_type"`
}

// PresignUpload hands the browser a direct-upload URL for a photo.
func (h *Handler) PresignUpload(c *gin.Context) {
	var req presignRequest
	if !bindJSON(c, &req) {
		return
	}
	if h.Presigner == nil {
		h.respondError(c, storage.ErrNotConfigured)
		return
	}
	up, err := h.Presigner.PresignPut(c.Request.Context(), req.ContentType)
	if err != nil {
		h.uploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, up)
}

// Upload stores a photo sent as multipart field "file".
func (h *Handler) Upload(c *gin.Context) {
	if h.Uploads == nil {
		h.respondError(c, storage.ErrNotConfigured)
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	defer file.Close()
	if header.Size > h.MaxUploadBytes {
		h.respondError(c, storage.ErrTooLarge)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return
	}
	if int64(len(data)) > h.MaxUploadBytes {
		h.respondError(c, storage.ErrTooLarge)
		return
	}
	ct := header.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	obj, err := h.Uploads.Put(c.Request.Context(), ct, data)
	if err != nil {
		h.uploadError(c, err)
		return
	}
	c.JSON(http.StatusCreated, obj)
}

func (h *Handler) uploadError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrUnsupportedType) || errors.Is(err, storage.ErrTooLarge) || errors.Is(err, storage.ErrNotConfigured) {
		h.respondError(c, err)
		return
	}
	h.Log.Error("photo upload failed", zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
}

// UpsertStudent registers a student or updates the record matching the
// email or phone.
func (h *Handler) UpsertStudent(c *gin.Context) {
	var in registration.UpsertInput
	if !bindJSON(c, &in) {
		return
	}
	st, created, err := h.Students.Upsert(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"student": st, "created": created})
}

func (h *Handler) ListEvents(c *gin.Context) {
	events, err := h.Events.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
