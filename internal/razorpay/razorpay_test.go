package razorpay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"eventportal/internal/razorpay/razorpaytest"
)

func TestVerifyPaymentSignature(t *testing.T) {
	secret := "key_secret"
	valid := razorpaytest.PaymentSignature(secret, "order_1", "pay_1")

	cases := []struct {
		name               string
		order, payment, sg string
		ok                 bool
	}{
		{"valid", "order_1", "pay_1", valid, true},
		{"uppercase hex", "order_1", "pay_1", strings.ToUpper(valid), true},
		{"tampered payment", "order_1", "pay_2", valid, false},
		{"tampered order", "order_2", "pay_1", valid, false},
		{"empty signature", "order_1", "pay_1", "", false},
		{"garbage", "order_1", "pay_1", "deadbeef", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyPaymentSignature(secret, tc.order, tc.payment, tc.sg)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := razorpaytest.Sign("whsec", body)
	if err := VerifyWebhookSignature("whsec", body, sig); err != nil {
		t.Fatalf("valid webhook rejected: %v", err)
	}
	if err := VerifyWebhookSignature("whsec", append(body, ' '), sig); err == nil {
		t.Fatal("modified body accepted")
	}
	if err := VerifyWebhookSignature("", body, sig); err == nil {
		t.Fatal("empty secret accepted")
	}
}

func TestParseWebhookNotes(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":50000,"method":"upi","notes":{"kind":"donation","donation_id":"d-1"}}}}}`)
	evt, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, ok := evt.PaymentEntity()
	if !ok || p.OrderID != "order_1" || p.Amount != 50000 {
		t.Fatalf("unexpected payment %+v", p)
	}
	if p.Notes()["kind"] != "donation" || p.Notes()["donation_id"] != "d-1" {
		t.Fatalf("unexpected notes %v", p.Notes())
	}

	empty, _ := ParseWebhook([]byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","notes":[]}}}}`))
	p2, _ := empty.PaymentEntity()
	if len(p2.Notes()) != 0 {
		t.Fatalf("expected no notes, got %v", p2.Notes())
	}

	if _, err := ParseWebhook([]byte(`{}`)); err == nil {
		t.Fatal("expected error without event name")
	}
}

type fakeOrders struct {
	got map[string]interface{}
}

func (f *fakeOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.got = data
	return map[string]interface{}{"id": "order_9", "amount": float64(data["amount"].(int64)), "currency": data["currency"], "status": "created"}, nil
}

func TestCreateOrderConvertsToPaise(t *testing.T) {
	fake := &fakeOrders{}
	c := &Client{keyID: "rzp_test", keySecret: "s", orders: fake}
	o, err := c.CreateOrder(context.Background(), OrderRequest{Amount: 500, Receipt: "txn-1", Notes: map[string]string{"kind": "registration"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if fake.got["amount"].(int64) != 50000 || fake.got["currency"] != "INR" {
		t.Fatalf("unexpected request %v", fake.got)
	}
	if o.ID != "order_9" || o.Amount != 50000 {
		t.Fatalf("unexpected order %+v", o)
	}
	if _, err := c.CreateOrder(context.Background(), OrderRequest{Amount: 0}); !errors.Is(err, ErrGateway) {
		t.Fatalf("expected gateway error for zero amount, got %v", err)
	}
}
