package donation

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"eventportal/internal/validation"
)

// Donation statuses.
const (
	StatusPending  = "pending"
	StatusCaptured = "captured"
	StatusFailed   = "failed"
	StatusRefunded = "refunded"
)

// MaxAmount is the largest single donation accepted, in whole rupees.
const MaxAmount = 1_000_000

var (
	ErrInvalidStatus = errors.New("invalid donation status transition")
	// ErrDefaultTaken means another category became the default concurrently.
	ErrDefaultTaken = errors.New("another category is already the default")
)

// Donation is a gift through the public donation form.
type Donation struct {
	ID              string     `json:"id"`
	DonorName       string     `json:"donor_name"`
	DonorEmail      string     `json:"donor_email"`
	DonorPhone      string     `json:"donor_phone"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	OrderID         string     `json:"order_id,omitempty"`
	PaymentID       string     `json:"payment_id,omitempty"`
	Status          string     `json:"status"`
	CategoryID      string     `json:"category_id"`
	Anonymous       bool       `json:"anonymous"`
	Message         string     `json:"message,omitempty"`
	ReceiptSentAt   *time.Time `json:"receipt_sent_at,omitempty"`
	ReceiptAttempts int        `json:"receipt_attempts"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Category groups donations. Min and max bound the amount when set.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	SortOrder int       `json:"sort_order"`
	IsDefault bool      `json:"is_default"`
	MinAmount *int64    `json:"min_amount,omitempty"`
	MaxAmount *int64    `json:"max_amount,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CategoryInput creates or replaces a category.
type CategoryInput struct {
	Name      string `json:"name" validate:"required,min=2,max=100"`
	Active    bool   `json:"active"`
	SortOrder int    `json:"sort_order" validate:"gte=0"`
	IsDefault bool   `json:"is_default"`
	MinAmount *int64 `json:"min_amount" validate:"omitempty,gte=1,lte=1000000"`
	MaxAmount *int64 `json:"max_amount" validate:"omitempty,gte=1,lte=1000000"`
}

func (in CategoryInput) validate() error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if in.MinAmount != nil && in.MaxAmount != nil && *in.MaxAmount < *in.MinAmount {
		return validation.Field("max_amount", "must not be below min_amount")
	}
	if in.IsDefault && !in.Active {
		return validation.Field("is_default", "an inactive category cannot be the default")
	}
	return nil
}

// CreateInput is the public donation form. Amount is kept as the raw JSON
// number so fractional values are rejected instead of truncated.
type CreateInput struct {
	DonorName  string      `json:"name" validate:"required,min=2,max=100,alphaspace"`
	DonorEmail string      `json:"email" validate:"required,email"`
	DonorPhone string      `json:"phone" validate:"required,phone"`
	Amount     json.Number `json:"amount"`
	CategoryID string      `json:"category_id"`
	Anonymous  bool        `json:"anonymous"`
	Message    string      `json:"message" validate:"max=500"`
}

func (in *CreateInput) normalize() {
	in.DonorName = strings.Join(strings.Fields(in.DonorName), " ")
	in.DonorEmail = strings.ToLower(strings.TrimSpace(in.DonorEmail))
	in.DonorPhone = strings.TrimSpace(in.DonorPhone)
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	in.Message = strings.TrimSpace(in.Message)
}

// ParseAmount accepts whole rupees from 1 to MaxAmount.
func ParseAmount(n json.Number) (int64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, validation.Field("amount", "is required")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, validation.Field("amount", "must be a whole number")
	}
	if v < 1 || v > MaxAmount {
		return 0, validation.Field("amount", "must be between 1 and 1000000")
	}
	return v, nil
}

// CreateResult is what the checkout widget needs. Amount is in paise.
type CreateResult struct {
	DonationID string `json:"donation_id"`
	OrderID    string `json:"order_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	KeyID      string `json:"key_id"`
}

// VerifyInput is the checkout success callback for a donation.
type VerifyInput struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// FailInput reports a failed or dismissed donation checkout.
type FailInput struct {
	OrderID string `json:"order_id" validate:"required"`
	Reason  string `json:"reason" validate:"max=500"`
}

// ListFilter pages through donations, optionally by status.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// ReceiptView is the public donation receipt. Anonymous donations show no
// donor name.
type ReceiptView struct {
	ID           string    `json:"id"`
	DonorName    string    `json:"donor_name"`
	Anonymous    bool      `json:"anonymous"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	CategoryName string    `json:"category"`
	PaymentID    string    `json:"payment_id,omitempty"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AnonymousName replaces the donor name on public views.
const AnonymousName = "Anonymous"

func viewOf(d Donation, categoryName string) ReceiptView {
	name := d.DonorName
	if d.Anonymous {
		name = AnonymousName
	}
	return ReceiptView{
		ID:           d.ID,
		DonorName:    name,
		Anonymous:    d.Anonymous,
		Amount:       d.Amount,
		Currency:     d.Currency,
		Status:       d.Status,
		CategoryName: categoryName,
		PaymentID:    d.PaymentID,
		Message:      d.Message,
		CreatedAt:    d.CreatedAt,
	}
}
