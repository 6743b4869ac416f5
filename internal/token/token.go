package token

import (
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrTokenUsed means the token was already scanned. It is never
	// re-accepted.
	ErrTokenUsed   = errors.New("token already used")
	ErrInvalidCode = errors.New("invalid token code")
)

// Token is a check-in credential for one student at one event.
type Token struct {
	ID              string     `json:"id"`
	EventID         string     `json:"event_id"`
	StudentID       string     `json:"student_id"`
	TransactionID   string     `json:"transaction_id,omitempty"`
	CoTransactionID string     `json:"co_transaction_id,omitempty"`
	Code            string     `json:"code"`
	IsUsed          bool       `json:"is_used"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	UsedBy          string     `json:"used_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// IssueInput names who the token is for and what paid for it.
type IssueInput struct {
	EventID         string
	StudentID       string
	TransactionID   string
	CoTransactionID string
}

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 10
)

// NewCode returns a random code without look-alike characters.
func NewCode() (string, error) {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

var codeRe = regexp.MustCompile(`^[A-Z0-9-]{4,64}$`)

// DecodeScan extracts a token code from what a scanner produced: the bare
// code, "TOKEN:<code>", or a receipt link ending in /t/<code>.
func DecodeScan(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndex(s, "/t/"); i >= 0 {
		s = s[i+len("/t/"):]
		if j := strings.IndexAny(s, "/?#"); j >= 0 {
			s = s[:j]
		}
	}
	if len(s) >= 6 && strings.EqualFold(s[:6], "TOKEN:") {
		s = strings.TrimSpace(s[6:])
	}
	s = strings.ToUpper(s)
	if !codeRe.MatchString(s) {
		return "", ErrInvalidCode
	}
	return s, nil
}
