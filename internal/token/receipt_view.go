package token

import "time"

// Receipt is the aggregated view behind the receipt page: the token with
// its event, student and whatever paid for it.
type Receipt struct {
	TokenID  string          `json:"token_id"`
	Code     string          `json:"code"`
	IsUsed   bool            `json:"is_used"`
	UsedAt   *time.Time      `json:"used_at,omitempty"`
	IssuedAt time.Time       `json:"issued_at"`
	Event    ReceiptEvent    `json:"event"`
	Student  ReceiptStudent  `json:"student"`
	Payment  *ReceiptPayment `json:"payment,omitempty"`
}

type ReceiptEvent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	FoodIncluded bool      `json:"food_included"`
	Fee          int64     `json:"fee"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
}

type ReceiptStudent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	BatchYear int    `json:"batch_year,omitempty"`
}

// ReceiptPayment is either an online transaction or an offline
// co-transaction.
type ReceiptPayment struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id,omitempty"`
	PaymentID string    `json:"payment_id,omitempty"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Method    string    `json:"method,omitempty"`
	At        time.Time `json:"at"`
}

const (
	PaymentOnline  = "online"
	PaymentOffline = "offline"
)
