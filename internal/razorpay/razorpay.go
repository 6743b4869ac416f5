// Package razorpay wraps order creation and the signature checks used by
// the checkout callback and webhooks.
package razorpay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	rzp "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
)

var (
	ErrInvalidSignature = errors.New("invalid payment signature")
	ErrGateway          = errors.New("payment gateway error")
)

// OrderRequest describes an order in whole currency units.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Order is the gateway's order. Amount is in the smallest currency unit.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway is what the payment and donation services need from Razorpay.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	VerifyPayment(orderID, paymentID, signature string) error
	KeyID() string
}

type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Client talks to the Razorpay orders API.
type Client struct {
	keyID     string
	keySecret string
	orders    orderCreator
}

// New builds a client from API credentials.
func New(keyID, keySecret string) *Client {
	c := rzp.NewClient(keyID, keySecret)
	return &Client{keyID: keyID, keySecret: keySecret, orders: c.Order}
}

// KeyID is the public key the checkout widget is opened with.
func (c *Client) KeyID() string { return c.keyID }

// CreateOrder creates an order. The SDK has no context support, so ctx is
// only checked before the call.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	if req.Amount <= 0 {
		return Order{}, fmt.Errorf("%w: amount must be positive", ErrGateway)
	}
	currency := req.Currency
	if currency == "" {
		currency = "INR"
	}
	data := map[string]interface{}{
		"amount":   ToSubunits(req.Amount),
		"currency": currency,
		"receipt":  truncate(req.Receipt, 40),
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}
	body, err := c.orders.Create(data, nil)
	if err != nil {
		return Order{}, fmt.Errorf("%w: create order: %v", ErrGateway, err)
	}
	return orderFromMap(body)
}

// VerifyPayment checks the checkout callback signature.
func (c *Client) VerifyPayment(orderID, paymentID, signature string) error {
	return VerifyPaymentSignature(c.keySecret, orderID, paymentID, signature)
}

// ToSubunits converts whole rupees to paise.
func ToSubunits(amount int64) int64 { return amount * 100 }

// VerifyPaymentSignature checks HMAC_SHA256(secret, order_id|payment_id).
func VerifyPaymentSignature(secret, orderID, paymentID, signature string) error {
	if secret == "" || orderID == "" || paymentID == "" || signature == "" {
		return ErrInvalidSignature
	}
	attrs := map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
	}
	if !utils.VerifyPaymentSignature(attrs, normalize(signature), secret) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyWebhookSignature checks HMAC_SHA256(secret, body) against the
// X-Razorpay-Signature header.
func VerifyWebhookSignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	if !utils.VerifyWebhookSignature(string(body), normalize(signature), secret) {
		return ErrInvalidSignature
	}
	return nil
}

// Signatures are lowercase hex.
func normalize(sig string) string {
	return strings.ToLower(strings.TrimSpace(sig))
}

func orderFromMap(m map[string]interface{}) (Order, error) {
	id, _ := m["id"].(string)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order response without id", ErrGateway)
	}
	o := Order{ID: id}
	o.Currency, _ = m["currency"].(string)
	o.Receipt, _ = m["receipt"].(string)
	o.Status, _ = m["status"].(string)
	switch v := m["amount"].(type) {
	case float64:
		o.Amount = int64(v)
	case int64:
		o.Amount = v
	case int:
		o.Amount = int64(v)
	}
	return o, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
