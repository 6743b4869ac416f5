package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"eventportal/internal/auth"
	"eventportal/internal/donation"
	"eventportal/internal/payment"
	"eventportal/internal/razorpay"
	"eventportal/internal/razorpay/razorpaytest"
	"eventportal/internal/registration"
	"eventportal/internal/store"
	"eventportal/internal/token"
	"eventportal/internal/validation"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "portal-test"
	hookSecret = "hook-secret"
)

type fakeTokens struct {
	Tokens
	calls int
	used  map[string]bool
}

func (f *fakeTokens) Receipt(_ context.Context, id string) (token.Receipt, error) {
	f.calls++
	if id != "tok-1" {
		return token.Receipt{}, store.ErrNotFound
	}
	return token.Receipt{TokenID: "tok-1", Code: "ABCD234567"}, nil
}

func (f *fakeTokens) ReceiptByCode(_ context.Context, code string) (token.Receipt, error) {
	if code != "ABCD234567" {
		return token.Receipt{}, store.ErrNotFound
	}
	return token.Receipt{TokenID: "tok-1", Code: code, IsUsed: f.used[code]}, nil
}

func (f *fakeTokens) Scan(_ context.Context, sess auth.Session, payload string) (token.Receipt, error) {
	code, err := token.DecodeScan(payload)
	if err != nil {
		return token.Receipt{}, err
	}
	if code != "ABCD234567" {
		return token.Receipt{}, store.ErrNotFound
	}
	if f.used[code] {
		return token.Receipt{}, token.ErrTokenUsed
	}
	f.used[code] = true
	return token.Receipt{TokenID: "tok-1", Code: code, IsUsed: true}, nil
}

type fakeDonations struct {
	Donations
	mu      sync.Mutex
	calls   int
	applied []string
}

func (f *fakeDonations) Receipt(_ context.Context, id string) (donation.ReceiptView, error) {
	f.calls++
	return donation.ReceiptView{ID: id, DonorName: donation.AnonymousName, Anonymous: true}, nil
}

func (f *fakeDonations) Create(_ context.Context, in donation.CreateInput) (donation.CreateResult, error) {
	if _, err := donation.ParseAmount(in.Amount); err != nil {
		return donation.CreateResult{}, err
	}
	return donation.CreateResult{DonationID: "d1", OrderID: "order_d1"}, nil
}

func (f *fakeDonations) CreateCategory(_ context.Context, in donation.CategoryInput) (donation.Category, error) {
	if in.IsDefault {
		return donation.Category{}, donation.ErrDefaultTaken
	}
	return donation.Category{ID: "c1", Name: in.Name, Active: in.Active}, nil
}

func (f *fakeDonations) OwnsOrder(_ context.Context, orderID string) (bool, error) {
	return strings.HasPrefix(orderID, "order_d"), nil
}

func (f *fakeDonations) ApplyWebhook(_ context.Context, evt razorpay.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _ := evt.PaymentEntity()
	f.applied = append(f.applied, evt.Event+":"+p.OrderID)
	return nil
}

type fakePayments struct {
	Payments
	applied []string
}

func (f *fakePayments) OwnsOrder(_ context.Context, orderID string) (bool, error) {
	return strings.HasPrefix(orderID, "order_r"), nil
}

func (f *fakePayments) ApplyWebhook(_ context.Context, evt razorpay.WebhookEvent, _ []byte) error {
	p, ok := evt.PaymentEntity()
	if !ok {
		return store.ErrNotFound
	}
	f.applied = append(f.applied, evt.Event+":"+p.OrderID)
	return nil
}

func (f *fakePayments) Verify(_ context.Context, in payment.VerifyInput) (payment.VerifyResult, error) {
	if err := razorpay.VerifyPaymentSignature("secret", in.OrderID, in.PaymentID, in.Signature); err != nil {
		return payment.VerifyResult{}, err
	}
	return payment.VerifyResult{TokenID: "tok-1"}, nil
}

func (f *fakePayments) CreateCoTransaction(_ context.Context, sess auth.Session, in payment.CoTransactionInput) (payment.CoTransactionResult, error) {
	if err := validation.Struct(in); err != nil {
		return payment.CoTransactionResult{}, err
	}
	return payment.CoTransactionResult{CoTransaction: payment.CoTransaction{ID: "co-1", CreatedBy: sess.UserID}}, nil
}

type fakeStudents struct {
	Students
	byEmail map[string]registration.Student
}

func (f *fakeStudents) Upsert(_ context.Context, in registration.UpsertInput) (registration.Student, bool, error) {
	if err := validation.Struct(in); err != nil {
		return registration.Student{}, false, err
	}
	if st, ok := f.byEmail[in.Email]; ok {
		st.Name = in.Name
		f.byEmail[in.Email] = st
		return st, false, nil
	}
	st := registration.Student{ID: "s" + in.Phone, Name: in.Name, Email: in.Email, Phone: in.Phone}
	f.byEmail[in.Email] = st
	return st, true, nil
}

type fakeAccounts struct {
	Accounts
}

func (fakeAccounts) SignIn(_ context.Context, email, password string) (auth.Issued, auth.User, error) {
	if email != "admin@example.com" || password != "hunter22" {
		return auth.Issued{}, auth.User{}, auth.ErrInvalidCredentials
	}
	issued, err := auth.Issue("u1", auth.RoleAdmin, email, testIssuer, testKey, time.Hour)
	return issued, auth.User{ID: "u1", Email: email, Role: auth.RoleAdmin}, err
}

func (fakeAccounts) CreateUser(_ context.Context, in auth.NewUser) (auth.User, error) {
	if err := validation.Struct(in); err != nil {
		return auth.User{}, err
	}
	if in.Email == "admin@example.com" {
		return auth.User{}, auth.ErrUserExists
	}
	return auth.User{ID: "u2", Name: in.Name, Email: in.Email, Role: in.Role}, nil
}

type memReplay struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memReplay) ClaimOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memReplay) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type fixture struct {
	router    *gin.Engine
	tokens    *fakeTokens
	donations *fakeDonations
	payments  *fakePayments
}

func newFixture() fixture {
	gin.SetMode(gin.TestMode)
	f := fixture{
		tokens:    &fakeTokens{used: map[string]bool{}},
		donations: &fakeDonations{},
		payments:  &fakePayments{},
	}
	h := New(Deps{
		Tokens:        f.tokens,
		Donations:     f.donations,
		Payments:      f.payments,
		Students:      &fakeStudents{byEmail: map[string]registration.Student{}},
		Accounts:      fakeAccounts{},
		Auth:          auth.NewAuthenticator(testKey, testIssuer, nil),
		Replay:        &memReplay{keys: map[string]bool{}},
		WebhookSecret: hookSecret,
	})
	f.router = gin.New()
	h.Register(f.router)
	return f
}

func (f fixture) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func bearerFor(t *testing.T, role string) map[string]string {
	t.Helper()
	issued, err := auth.Issue("u-"+role, role, role+"@example.com", testIssuer, testKey, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + issued.Token}
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestMissingIDsAreRejectedWithoutBackendCall(t *testing.T) {
	f := newFixture()
	cases := []struct {
		path string
		want string
	}{
		{"/v1/receipts", "no token id provided"},
		{"/v1/receipts?token=", "no token id provided"},
		{"/v1/receipts?token=%20", "no token id provided"},
		{"/v1/donations/receipt", "no donation id provided"},
		{"/v1/donations/receipt?id=", "no donation id provided"},
	}
	for _, tc := range cases {
		w := f.do(http.MethodGet, tc.path, nil, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", tc.path, w.Code)
			continue
		}
		if got := errorBody(t, w)["error"]; got != tc.want {
			t.Errorf("%s: error %q, want %q", tc.path, got, tc.want)
		}
	}
	if f.tokens.calls != 0 || f.donations.calls != 0 {
		t.Fatalf("backend called: tokens=%d donations=%d", f.tokens.calls, f.donations.calls)
	}
}

func TestReceiptLookup(t *testing.T) {
	f := newFixture()
	if w := f.do(http.MethodGet, "/v1/receipts?token=tok-1", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/receipts?token=nope", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown token status %d, want 404", w.Code)
	}
	w := f.do(http.MethodGet, "/v1/receipts/tok-1/receipt.png", nil, nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("png status %d type %q", w.Code, w.Header().Get("Content-Type"))
	}
	if w := f.do(http.MethodGet, "/v1/tokens/ABCD234567/barcode.png", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("barcode status %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/tokens/%3B%3B/barcode.png", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad code status %d, want 400", w.Code)
	}
}

func TestScanAtMostOnce(t *testing.T) {
	f := newFixture()
	if w := f.do(http.MethodPost, "/v1/admin/scan", gin.H{"code": "ABCD234567"}, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous scan status %d, want 401", w.Code)
	}
	scanner := bearerFor(t, auth.RoleScanner)
	want := []int{http.StatusOK, http.StatusConflict}
	for i, code := range want {
		w := f.do(http.MethodPost, "/v1/admin/scan", gin.H{"code": "TOKEN:ABCD234567"}, scanner)
		if w.Code != code {
			t.Fatalf("scan %d status %d, want %d", i, w.Code, code)
		}
	}
	w := f.do(http.MethodGet, "/v1/admin/tokens/abcd234567", nil, scanner)
	if w.Code != http.StatusOK || errorBody(t, w)["is_used"] != true {
		t.Fatalf("lookup status %d body %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodPost, "/v1/admin/scan", gin.H{"code": "ZZZZ999999"}, scanner); w.Code != http.StatusNotFound {
		t.Fatalf("unknown code status %d, want 404", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/admin/scan", gin.H{"code": "!!"}, scanner); w.Code != http.StatusBadRequest {
		t.Fatalf("garbage code status %d, want 400", w.Code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	f := newFixture()
	if w := f.do(http.MethodGet, "/v1/admin/me", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/admin/me", nil, bearerFor(t, auth.RoleScanner)); w.Code != http.StatusForbidden {
		t.Fatalf("scanner status %d, want 403", w.Code)
	}
	w := f.do(http.MethodGet, "/v1/admin/me", nil, bearerFor(t, auth.RoleAdmin))
	if w.Code != http.StatusOK || errorBody(t, w)["role"] != auth.RoleAdmin {
		t.Fatalf("admin status %d body %s", w.Code, w.Body.String())
	}
}

func TestCoTransactionRecordsSessionUser(t *testing.T) {
	f := newFixture()
	admin := bearerFor(t, auth.RoleAdmin)
	w := f.do(http.MethodPost, "/v1/admin/co-transactions",
		gin.H{"student_id": "s1", "amount": 500, "status": "paid", "method": "cash"}, admin)
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"created_by":"u-admin"`) {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	w = f.do(http.MethodPost, "/v1/admin/co-transactions",
		gin.H{"student_id": "s1", "amount": 500, "status": "refunded", "method": "cheque"}, admin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid enum status %d, want 400", w.Code)
	}
	fields, _ := errorBody(t, w)["fields"].(map[string]any)
	if fields["status"] == nil || fields["method"] == nil {
		t.Fatalf("missing field errors: %v", fields)
	}
}

func TestSignInSetsCookie(t *testing.T) {
	f := newFixture()
	if w := f.do(http.MethodPost, "/v1/auth/sign-in", gin.H{"email": "admin@example.com", "password": "wrong"}, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status %d, want 401", w.Code)
	}
	w := f.do(http.MethodPost, "/v1/auth/sign-in", gin.H{"email": "admin@example.com", "password": "hunter22"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || cookie.Value == "" {
		t.Fatalf("session cookie not set: %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/me", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie session status %d", rec.Code)
	}
}

func TestDonationValidationErrors(t *testing.T) {
	f := newFixture()
	for _, amount := range []string{"0", "-5", "1000001", "10.5"} {
		body := []byte(`{"name":"Asha Rao","email":"asha@example.com","phone":"9876543210","amount":` + amount + `}`)
		w := f.do(http.MethodPost, "/v1/donations", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("amount %s: status %d, want 400", amount, w.Code)
		}
	}
	body := []byte(`{"name":"Asha Rao","email":"asha@example.com","phone":"9876543210","amount":250}`)
	if w := f.do(http.MethodPost, "/v1/donations", body, nil); w.Code != http.StatusCreated {
		t.Fatalf("valid donation status %d body %s", w.Code, w.Body.String())
	}
}

func TestVerifyPaymentRejectsTamperedSignature(t *testing.T) {
	f := newFixture()
	good := razorpaytest.PaymentSignature("secret", "order_r1", "pay_1")
	in := gin.H{"razorpay_order_id": "order_r1", "razorpay_payment_id": "pay_1", "razorpay_signature": good}
	if w := f.do(http.MethodPost, "/v1/payments/verify", in, nil); w.Code != http.StatusOK {
		t.Fatalf("valid signature status %d", w.Code)
	}
	in["razorpay_payment_id"] = "pay_2"
	if w := f.do(http.MethodPost, "/v1/payments/verify", in, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("tampered signature status %d, want 400", w.Code)
	}
}

func TestWebhook(t *testing.T) {
	f := newFixture()
	donationHook := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_d1","notes":{"kind":"donation"}}}}}`)
	regHook := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_r1","notes":[]}}}}`)
	signed := func(body []byte, id string) map[string]string {
		return map[string]string{"X-Razorpay-Signature": razorpaytest.Sign(hookSecret, body), "X-Razorpay-Event-Id": id}
	}

	if w := f.do(http.MethodPost, "/v1/payments/webhook", donationHook, map[string]string{"X-Razorpay-Signature": "bad"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad signature status %d, want 400", w.Code)
	}
	if len(f.donations.applied) != 0 {
		t.Fatalf("unsigned webhook applied")
	}

	for i := 0; i < 2; i++ {
		if w := f.do(http.MethodPost, "/v1/payments/webhook", donationHook, signed(donationHook, "evt_1")); w.Code != http.StatusOK {
			t.Fatalf("delivery %d status %d", i, w.Code)
		}
	}
	if len(f.donations.applied) != 1 {
		t.Fatalf("replayed webhook applied %d times", len(f.donations.applied))
	}

	if w := f.do(http.MethodPost, "/v1/payments/webhook", regHook, signed(regHook, "evt_2")); w.Code != http.StatusOK {
		t.Fatalf("registration webhook status %d", w.Code)
	}
	if len(f.payments.applied) != 1 || f.payments.applied[0] != "payment.captured:order_r1" {
		t.Fatalf("registration webhook routed wrong: %v", f.payments.applied)
	}
}

func TestUpsertStudentStatus(t *testing.T) {
	f := newFixture()
	in := gin.H{"name": "Meera Nair", "email": "meera@example.com", "phone": "9876543210"}
	w := f.do(http.MethodPost, "/v1/students", in, nil)
	if w.Code != http.StatusCreated || errorBody(t, w)["created"] != true {
		t.Fatalf("first upsert status %d body %s", w.Code, w.Body.String())
	}
	in["name"] = "Meera K Nair"
	w = f.do(http.MethodPost, "/v1/students", in, nil)
	if w.Code != http.StatusOK || errorBody(t, w)["created"] != false {
		t.Fatalf("second upsert status %d body %s", w.Code, w.Body.String())
	}
	w = f.do(http.MethodPost, "/v1/students", gin.H{"name": "X", "email": "nope", "phone": "1"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid upsert status %d", w.Code)
	}
	fields, _ := errorBody(t, w)["fields"].(map[string]any)
	for _, k := range []string{"name", "email", "phone"} {
		if fields[k] == nil {
			t.Errorf("no error for field %s: %v", k, fields)
		}
	}
}

func TestUploadsWithoutStorage(t *testing.T) {
	f := newFixture()
	if w := f.do(http.MethodPost, "/v1/uploads", nil, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("upload status %d, want 503", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/uploads/url", gin.H{"content_type": "image/png"}, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("presign status %d, want 503", w.Code)
	}
}

func TestDefaultCategoryConflict(t *testing.T) {
	f := newFixture()
	admin := bearerFor(t, auth.RoleAdmin)
	if w := f.do(http.MethodPost, "/v1/admin/donation-categories", gin.H{"name": "Sports", "active": true}, admin); w.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201", w.Code)
	}
	w := f.do(http.MethodPost, "/v1/admin/donation-categories", gin.H{"name": "Sports", "active": true, "is_default": true}, admin)
	if w.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", w.Code)
	}
}

func TestCreateScannerUser(t *testing.T) {
	f := newFixture()
	in := gin.H{"name": "Gate One", "email": "gate@example.com", "password": "scanner-pw", "role": auth.RoleScanner}
	if w := f.do(http.MethodPost, "/v1/admin/users", in, bearerFor(t, auth.RoleScanner)); w.Code != http.StatusForbidden {
		t.Fatalf("scanner creating users: status %d, want 403", w.Code)
	}
	admin := bearerFor(t, auth.RoleAdmin)
	w := f.do(http.MethodPost, "/v1/admin/users", in, admin)
	if w.Code != http.StatusCreated || errorBody(t, w)["role"] != auth.RoleScanner {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	in["email"] = "admin@example.com"
	if w := f.do(http.MethodPost, "/v1/admin/users", in, admin); w.Code != http.StatusConflict {
		t.Fatalf("duplicate status %d, want 409", w.Code)
	}
	in["email"], in["role"] = "root@example.com", "superuser"
	if w := f.do(http.MethodPost, "/v1/admin/users", in, admin); w.Code != http.StatusBadRequest {
		t.Fatalf("bad role status %d, want 400", w.Code)
	}
}
