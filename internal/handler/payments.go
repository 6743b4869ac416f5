package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eventportal/internal/metrics"
	"eventportal/internal/payment"
	"eventportal/internal/razorpay"
	"eventportal/internal/store"
)

const (
	webhookReplayTTL = 24 * time.Hour
	maxWebhookBody   = 1 << 20
)

func (h *Handler) CreateOrder(c *gin.Context) {
	var in payment.OrderInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.Payments.CreateOrder(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// VerifyPayment checks the checkout callback signature before anything is
// written.
func (h *Handler) VerifyPayment(c *gin.Context) {
	var in payment.VerifyInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.Payments.Verify(c.Request.Context(), in)
	if err != nil {
		metrics.Payments.WithLabelValues("registration", resultLabel(err)).Inc()
		h.respondError(c, err)
		return
	}
	metrics.Payments.WithLabelValues("registration", "captured").Inc()
	c.JSON(http.StatusOK, res)
}

func (h *Handler) PaymentFailed(c *gin.Context) {
	var in payment.FailInput
	if !bindJSON(c, &in) {
		return
	}
	t, err := h.Payments.MarkFailed(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": t.ID, "status": t.Status})
}

// Webhook applies a signed gateway notification to the transaction or
// donation that owns the order. Replays of the same event id are dropped.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	if err := razorpay.VerifyWebhookSignature(h.WebhookSecret, body, c.GetHeader("X-Razorpay-Signature")); err != nil {
		metrics.Webhooks.WithLabelValues("unknown", "bad_signature").Inc()
		h.Log.Warn("webhook signature rejected", zap.String("ip", c.ClientIP()))
		h.respondError(c, err)
		return
	}
	evt, err := razorpay.ParseWebhook(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	replayKey := ""
	if id := c.GetHeader("X-Razorpay-Event-Id"); id != "" && h.Replay != nil {
		replayKey = "portal:webhook:" + id
		claimed, err := h.Replay.ClaimOnce(ctx, replayKey, webhookReplayTTL)
		switch {
		case err != nil:
			h.Log.Warn("webhook replay guard unavailable", zap.Error(err))
			replayKey = ""
		case !claimed:
			metrics.Webhooks.WithLabelValues(evt.Event, "duplicate").Inc()
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}
	}

	if err := h.dispatchWebhook(ctx, evt, body); err != nil {
		if replayKey != "" {
			if rerr := h.Replay.Release(context.WithoutCancel(ctx), replayKey); rerr != nil {
				h.Log.Warn("webhook replay key not released", zap.Error(rerr))
			}
		}
		metrics.Webhooks.WithLabelValues(evt.Event, "error").Inc()
		h.Log.Error("webhook failed", zap.String("event", evt.Event), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not applied"})
		return
	}
	metrics.Webhooks.WithLabelValues(evt.Event, "applied").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) dispatchWebhook(ctx context.Context, evt razorpay.WebhookEvent, raw []byte) error {
	p, ok := evt.PaymentEntity()
	if !ok {
		// Refund events may arrive without the payment entity; the payment
		// id matches at most one side.
		if err := ignoreNotFound(h.Payments.ApplyWebhook(ctx, evt, raw)); err != nil {
			return err
		}
		return ignoreNotFound(h.Donations.ApplyWebhook(ctx, evt))
	}
	switch p.Notes()["kind"] {
	case "donation":
		return ignoreNotFound(h.Donations.ApplyWebhook(ctx, evt))
	case "registration":
		return ignoreNotFound(h.Payments.ApplyWebhook(ctx, evt, raw))
	}
	if owns, err := h.Donations.OwnsOrder(ctx, p.OrderID); err != nil {
		return err
	} else if owns {
		return h.Donations.ApplyWebhook(ctx, evt)
	}
	if owns, err := h.Payments.OwnsOrder(ctx, p.OrderID); err != nil {
		return err
	} else if owns {
		return h.Payments.ApplyWebhook(ctx, evt, raw)
	}
	h.Log.Info("webhook for unknown order", zap.String("order_id", p.OrderID), zap.String("event", evt.Event))
	return nil
}

// ignoreNotFound treats notifications for orders this portal does not know
// as handled, so the gateway stops retrying them.
func ignoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, razorpay.ErrInvalidSignature):
		return "bad_signature"
	case errors.Is(err, store.ErrNotFound):
		return "unknown_order"
	default:
		return "error"
	}
}
