package payment

import (
	"encoding/json"
	"errors"
	"time"
)

// Transaction statuses.
const (
	StatusCreated  = "created"
	StatusCaptured = "captured"
	StatusFailed   = "failed"
	StatusRefunded = "refunded"
)

// Co-transaction statuses and methods.
const (
	CoStatusPaid      = "paid"
	CoStatusPending   = "pending"
	CoStatusException = "exception"

	MethodCash = "cash"
	MethodUPI  = "upi"
)

var (
	ErrInvalidStatus = errors.New("invalid status transition")
	ErrAlreadyPaid   = errors.New("registration already paid")
)

// Transaction is an online payment for an event registration. Amount is in
// whole currency units.
type Transaction struct {
	ID        string          `json:"id"`
	EventID   string          `json:"event_id"`
	StudentID string          `json:"student_id"`
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id,omitempty"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	Method    string          `json:"method,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CoTransaction is an offline payment recorded by an admin.
type CoTransaction struct {
	ID         string    `json:"id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	Method     string    `json:"method"`
	StorageRef string    `json:"storage_ref,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListFilter pages through transactions, optionally by status.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// OrderInput starts an online payment. EventID falls back to the
// configured default event.
type OrderInput struct {
	EventID   string `json:"event_id"`
	StudentID string `json:"student_id" validate:"required"`
}

// OrderResult is what the checkout widget needs. Amount is in paise.
type OrderResult struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	KeyID         string `json:"key_id"`
	EventName     string `json:"event_name"`
	Free          bool   `json:"free,omitempty"`
	TokenID       string `json:"token_id,omitempty"`
}

// VerifyInput is the checkout success callback.
type VerifyInput struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
	Method    string `json:"method"`
}

// VerifyResult is a captured transaction and its token.
type VerifyResult struct {
	Transaction Transaction `json:"transaction"`
	TokenID     string      `json:"token_id"`
	TokenCode   string      `json:"token_code"`
}

// FailInput reports a failed or dismissed checkout.
type FailInput struct {
	OrderID string `json:"order_id" validate:"required"`
	Reason  string `json:"reason" validate:"max=500"`
}

// CoTransactionInput records an offline payment for a registration.
type CoTransactionInput struct {
	EventID    string `json:"event_id"`
	StudentID  string `json:"student_id" validate:"required"`
	Amount     int64  `json:"amount" validate:"gte=0,lte=1000000"`
	Status     string `json:"status" validate:"required,oneof=paid pending exception"`
	Method     string `json:"method" validate:"required,oneof=cash upi"`
	StorageRef string `json:"storage_ref" validate:"max=512"`
	Note       string `json:"note" validate:"max=500"`
}

// CoTransactionResult is the stored record and the token it issued.
type CoTransactionResult struct {
	CoTransaction CoTransaction `json:"co_transaction"`
	TokenID       string        `json:"token_id"`
	TokenCode     string        `json:"token_code"`
}
