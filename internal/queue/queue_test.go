package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := q.Publish(ctx, Message{Kind: KindDonationReceipt, ID: "d-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-msgs:
		if got.Kind != KindDonationReceipt || got.ID != "d-1" {
			t.Fatalf("got %+v", got)
		}
		if got.Queued.IsZero() {
			t.Fatalf("queued time not stamped")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryConsumeStopsOnCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	msgs, _ := q.Consume(ctx)
	cancel()

	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestEncodeDecode(t *testing.T) {
	raw, err := encode(Message{Kind: KindRegistrationReceipt, ID: "tok-1", Attempt: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != KindRegistrationReceipt || msg.ID != "tok-1" || msg.Attempt != 2 {
		t.Fatalf("round trip mismatch: %+v", msg)
	}

	if _, err := encode(Message{Kind: KindRegistrationReceipt}); err == nil {
		t.Fatal("expected error for message without id")
	}
	for _, bad := range []string{"checkin|abc", `{"kind":"x"}`, ""} {
		if _, err := decode(bad); err == nil {
			t.Errorf("decode(%q) expected error", bad)
		}
	}
}
