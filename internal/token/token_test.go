package token

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"sync"
	"testing"
	"time"

	"eventportal/internal/auth"
	"eventportal/internal/receiptimg"
	"eventportal/internal/store"
)

type memTokens struct {
	mu   sync.Mutex
	rows map[string]*Token
	seq  int
}

func newMemTokens() *memTokens { return &memTokens{rows: map[string]*Token{}} }

func (m *memTokens) FindByEventStudent(_ context.Context, eventID, studentID string) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.EventID == eventID && t.StudentID == studentID {
			return *t, nil
		}
	}
	return Token{}, store.ErrNotFound
}

func (m *memTokens) Insert(_ context.Context, t Token) (Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.rows {
		if o.Code == t.Code || (o.EventID == t.EventID && o.StudentID == t.StudentID) {
			return Token{}, false, nil
		}
	}
	m.seq++
	t.ID = fmt.Sprintf("tok-%d", m.seq)
	t.CreatedAt = time.Now()
	m.rows[t.ID] = &t
	return t, true, nil
}

func (m *memTokens) Link(_ context.Context, id, txID, coID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.rows[id]
	if txID != "" {
		t.TransactionID = txID
	}
	if coID != "" {
		t.CoTransactionID = coID
	}
	return nil
}

func (m *memTokens) MarkUsed(_ context.Context, code, by string, at time.Time) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.Code != code {
			continue
		}
		if t.IsUsed {
			return Token{}, ErrTokenUsed
		}
		t.IsUsed, t.UsedAt, t.UsedBy = true, &at, by
		return *t, nil
	}
	return Token{}, store.ErrNotFound
}

func (m *memTokens) List(context.Context, int, int) ([]Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Token
	for _, t := range m.rows {
		out = append(out, *t)
	}
	return out, nil
}

func (m *memTokens) Receipt(_ context.Context, id string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return Receipt{}, store.ErrNotFound
	}
	return Receipt{TokenID: t.ID, Code: t.Code, IsUsed: t.IsUsed, UsedAt: t.UsedAt}, nil
}

func (m *memTokens) ReceiptByCode(ctx context.Context, code string) (Receipt, error) {
	m.mu.Lock()
	var id string
	for _, t := range m.rows {
		if t.Code == code {
			id = t.ID
		}
	}
	m.mu.Unlock()
	return m.Receipt(ctx, id)
}

func TestDecodeScan(t *testing.T) {
	cases := []struct {
		in, want string
		ok       bool
	}{
		{"ABCD234567", "ABCD234567", true},
		{"  abcd234567\n", "ABCD234567", true},
		{"TOKEN:ABCD234567", "ABCD234567", true},
		{"token: ABCD234567", "ABCD234567", true},
		{"https://portal.example/t/ABCD234567", "ABCD234567", true},
		{"https://portal.example/t/ABCD234567?src=print", "ABCD234567", true},
		{"", "", false},
		{"AB", "", false},
		{"DROP TABLE tokens;", "", false},
	}
	for _, tc := range cases {
		got, err := DecodeScan(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("DecodeScan(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidCode) {
			t.Errorf("DecodeScan(%q) err = %v, want ErrInvalidCode", tc.in, err)
		}
	}
}

func TestNewCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c, err := NewCode()
		if err != nil {
			t.Fatalf("new code: %v", err)
		}
		if _, err := DecodeScan(c); err != nil {
			t.Fatalf("generated code %q does not decode: %v", c, err)
		}
		if seen[c] {
			t.Fatalf("duplicate code %q", c)
		}
		seen[c] = true
	}
}

func TestIssueIsIdempotentPerRegistration(t *testing.T) {
	repo := newMemTokens()
	svc := NewService(repo, nil)
	ctx := context.Background()

	first, created, err := svc.Issue(ctx, IssueInput{EventID: "e1", StudentID: "s1", CoTransactionID: "co-1"})
	if err != nil || !created {
		t.Fatalf("issue: created=%v err=%v", created, err)
	}
	second, created, err := svc.Issue(ctx, IssueInput{EventID: "e1", StudentID: "s1", TransactionID: "tx-1"})
	if err != nil || created {
		t.Fatalf("reissue: created=%v err=%v", created, err)
	}
	if first.ID != second.ID || first.Code != second.Code {
		t.Fatalf("expected same token, got %s and %s", first.ID, second.ID)
	}
	if second.TransactionID != "tx-1" || second.CoTransactionID != "co-1" {
		t.Fatalf("links not merged: %+v", second)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("expected 1 token, got %d", len(repo.rows))
	}
}

func TestScanAtMostOnce(t *testing.T) {
	repo := newMemTokens()
	svc := NewService(repo, nil)
	ctx := context.Background()
	tok, _, _ := svc.Issue(ctx, IssueInput{EventID: "e1", StudentID: "s1"})
	sess := auth.Session{UserID: "admin-1", Role: auth.RoleAdmin}

	rc, err := svc.Scan(ctx, sess, "TOKEN:"+tok.Code)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if !rc.IsUsed || rc.UsedAt == nil {
		t.Fatalf("receipt not marked used: %+v", rc)
	}
	if _, err := svc.Scan(ctx, sess, tok.Code); !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("second scan err = %v, want ErrTokenUsed", err)
	}
	if _, err := svc.Scan(ctx, sess, "ZZZZ999999"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown code err = %v, want not found", err)
	}
}

func TestConcurrentScansAcceptOne(t *testing.T) {
	repo := newMemTokens()
	svc := NewService(repo, nil)
	tok, _, _ := svc.Issue(context.Background(), IssueInput{EventID: "e1", StudentID: "s1"})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Scan(context.Background(), auth.Session{UserID: fmt.Sprintf("scanner-%d", i)}, tok.Code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrTokenUsed):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if accepted != 1 || rejected != 31 {
		t.Fatalf("accepted=%d rejected=%d", accepted, rejected)
	}
}

func TestReceiptPNG(t *testing.T) {
	rc := Receipt{
		Code:    "ABCD234567",
		Event:   ReceiptEvent{Name: "Alumni Meet", StartsAt: time.Now(), EndsAt: time.Now().Add(time.Hour), FoodIncluded: true},
		Student: ReceiptStudent{Name: "Asha Rao", Email: "asha@example.com", Phone: "9876543210"},
		Payment: &ReceiptPayment{Kind: PaymentOnline, Amount: 500, Currency: "INR", Status: "captured", Method: "upi", PaymentID: "pay_1"},
	}
	data, err := ReceiptPNG(rc, "Alumni Portal")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != receiptimg.Width || img.Bounds().Dy() != receiptimg.Height {
		t.Fatalf("unexpected size %v", img.Bounds())
	}
}
