package razorpay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Webhook event names handled by the portal.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventRefundProcessed = "refund.processed"
)

// WebhookEvent is the envelope Razorpay posts to the webhook URL.
type WebhookEvent struct {
	Event     string         `json:"event"`
	Contains  []string       `json:"contains"`
	CreatedAt int64          `json:"created_at"`
	Payload   WebhookPayload `json:"payload"`
}

type WebhookPayload struct {
	Payment *struct {
		Entity Payment `json:"entity"`
	} `json:"payment,omitempty"`
	Refund *struct {
		Entity Refund `json:"entity"`
	} `json:"refund,omitempty"`
}

// Payment is the payment entity carried by payment.* and refund.* events.
type Payment struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	Method           string          `json:"method"`
	Email            string          `json:"email"`
	Contact          string          `json:"contact"`
	ErrorCode        string          `json:"error_code"`
	ErrorDescription string          `json:"error_description"`
	RawNotes         json.RawMessage `json:"notes"`
}

type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// Notes decodes the notes object. Razorpay sends [] when there are none.
func (p Payment) Notes() map[string]string {
	out := map[string]string{}
	raw := bytes.TrimSpace(p.RawNotes)
	if len(raw) == 0 || raw[0] != '{' {
		return out
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// ParseWebhook decodes a verified webhook body.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	if evt.Event == "" {
		return WebhookEvent{}, fmt.Errorf("decode webhook: missing event name")
	}
	return evt, nil
}

// PaymentEntity returns the payment carried by the event, if any.
func (e WebhookEvent) PaymentEntity() (Payment, bool) {
	if e.Payload.Payment == nil {
		return Payment{}, false
	}
	return e.Payload.Payment.Entity, true
}
