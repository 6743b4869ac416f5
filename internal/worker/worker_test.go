package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eventportal/internal/donation"
	"eventportal/internal/mail"
	"eventportal/internal/queue"
	"eventportal/internal/store"
	"eventportal/internal/token"
)

type fakeTokens map[string]token.Receipt

func (f fakeTokens) Receipt(_ context.Context, id string) (token.Receipt, error) {
	rc, ok := f[id]
	if !ok {
		return token.Receipt{}, store.ErrNotFound
	}
	return rc, nil
}

type fakeDonations struct {
	mu       sync.Mutex
	rows     map[string]donation.Donation
	attempts map[string]int
}

func (f *fakeDonations) Get(_ context.Context, id string) (donation.Donation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.rows[id]
	if !ok {
		return donation.Donation{}, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeDonations) Receipt(ctx context.Context, id string) (donation.ReceiptView, error) {
	d, err := f.Get(ctx, id)
	if err != nil {
		return donation.ReceiptView{}, err
	}
	return donation.ReceiptView{ID: d.ID, DonorName: d.DonorName, Amount: d.Amount, Currency: d.Currency, Status: d.Status, CategoryName: "General"}, nil
}

func (f *fakeDonations) MarkReceiptSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.rows[id]
	now := time.Now()
	d.ReceiptSentAt = &now
	d.ReceiptAttempts++
	f.rows[id] = d
	return nil
}

func (f *fakeDonations) RecordReceiptAttempt(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[id]++
	return nil
}

type fakeMail struct {
	mu   sync.Mutex
	sent []mail.Message
	fail error
}

func (f *fakeMail) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ToEmail == "" {
		return mail.ErrNoRecipient
	}
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type recordingJobs struct {
	ch chan queue.Message
}

func (r recordingJobs) Publish(_ context.Context, msg queue.Message) error {
	r.ch <- msg
	return nil
}

func newReceipts(m *fakeMail, jobs queue.Publisher) (*Receipts, *fakeDonations) {
	dons := &fakeDonations{
		rows: map[string]donation.Donation{
			"d1": {ID: "d1", DonorName: "Asha Rao", DonorEmail: "asha@example.com", Amount: 500, Currency: "INR", Status: donation.StatusCaptured},
			"d2": {ID: "d2", DonorName: "Ravi", DonorEmail: "ravi@example.com", Amount: 100, Currency: "INR", Status: donation.StatusPending},
		},
		attempts: map[string]int{},
	}
	toks := fakeTokens{
		"t1": {TokenID: "t1", Code: "ABCD234567", Student: token.ReceiptStudent{Name: "Meera", Email: "meera@example.com"}, Event: token.ReceiptEvent{Name: "Alumni Meet"}},
		"t2": {TokenID: "t2", Code: "EFGH234567"},
	}
	return &Receipts{Tokens: toks, Donations: dons, Mail: m, Jobs: jobs, PortalName: "Portal"}, dons
}

func TestHandleRegistrationReceipt(t *testing.T) {
	m := &fakeMail{}
	r, _ := newReceipts(m, nil)
	if err := r.Handle(context.Background(), queue.Message{Kind: queue.KindRegistrationReceipt, ID: "t1"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if m.count() != 1 {
		t.Fatalf("sent %d messages, want 1", m.count())
	}
	msg := m.sent[0]
	if msg.ToEmail != "meera@example.com" || len(msg.Attachments) != 1 || len(msg.Attachments[0].Content) == 0 {
		t.Fatalf("unexpected message: to=%q attachments=%d", msg.ToEmail, len(msg.Attachments))
	}

	err := r.Handle(context.Background(), queue.Message{Kind: queue.KindRegistrationReceipt, ID: "t2"})
	if !errors.Is(err, mail.ErrNoRecipient) {
		t.Fatalf("missing e-mail: err = %v", err)
	}
	if err := r.Handle(context.Background(), queue.Message{Kind: queue.KindRegistrationReceipt, ID: "nope"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown token: err = %v", err)
	}
}

func TestHandleDonationReceiptOnce(t *testing.T) {
	m := &fakeMail{}
	r, dons := newReceipts(m, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := r.Handle(ctx, queue.Message{Kind: queue.KindDonationReceipt, ID: "d1"}); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	if m.count() != 1 {
		t.Fatalf("sent %d messages, want 1", m.count())
	}
	if dons.rows["d1"].ReceiptSentAt == nil {
		t.Fatal("receipt_sent_at not recorded")
	}

	if err := r.Handle(ctx, queue.Message{Kind: queue.KindDonationReceipt, ID: "d2"}); err != nil {
		t.Fatalf("pending donation: %v", err)
	}
	if m.count() != 1 {
		t.Fatal("receipt sent for a pending donation")
	}
}

func TestDonationReceiptFailureIsRetried(t *testing.T) {
	m := &fakeMail{fail: errors.New("smtp down")}
	jobs := recordingJobs{ch: make(chan queue.Message, 4)}
	r, dons := newReceipts(m, jobs)
	r.MaxAttempts = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := make(chan queue.Message, 1)
	go r.Run(ctx, msgs)

	msgs <- queue.Message{Kind: queue.KindDonationReceipt, ID: "d1"}
	select {
	case again := <-jobs.ch:
		if again.Attempt != 1 || again.ID != "d1" {
			t.Fatalf("requeued %+v", again)
		}
		msgs <- again
	case <-time.After(2 * time.Second):
		t.Fatal("failed job was not requeued")
	}
	select {
	case extra := <-jobs.ch:
		t.Fatalf("job requeued past the attempt limit: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	dons.mu.Lock()
	defer dons.mu.Unlock()
	if dons.attempts["d1"] != 2 {
		t.Fatalf("attempts = %d, want 2", dons.attempts["d1"])
	}
}

type countingExpirer struct {
	n     int64
	err   error
	calls int
	ttl   time.Duration
}

func (c *countingExpirer) ExpireStale(_ context.Context, ttl time.Duration) (int64, error) {
	c.calls++
	c.ttl = ttl
	return c.n, c.err
}

func TestReconcilerSweep(t *testing.T) {
	pay := &countingExpirer{n: 3}
	don := &countingExpirer{err: errors.New("db down")}
	r := &Reconciler{Payments: pay, Donations: don}
	r.Sweep(context.Background())

	if pay.calls != 1 || don.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", pay.calls, don.calls)
	}
	if pay.ttl != 2*time.Hour {
		t.Fatalf("default ttl = %s", pay.ttl)
	}

	r.TTL = 30 * time.Minute
	r.Donations = nil
	r.Sweep(context.Background())
	if pay.ttl != 30*time.Minute || don.calls != 1 {
		t.Fatalf("ttl = %s, donation calls = %d", pay.ttl, don.calls)
	}
}
