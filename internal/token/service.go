package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eventportal/internal/auth"
	"eventportal/internal/store"
)

// Tokens is the persistence the service needs.
type Tokens interface {
	FindByEventStudent(ctx context.Context, eventID, studentID string) (Token, error)
	Insert(ctx context.Context, t Token) (Token, bool, error)
	Link(ctx context.Context, id, transactionID, coTransactionID string) error
	MarkUsed(ctx context.Context, code, usedBy string, at time.Time) (Token, error)
	List(ctx context.Context, limit, offset int) ([]Token, error)
	Receipt(ctx context.Context, id string) (Receipt, error)
	ReceiptByCode(ctx context.Context, code string) (Receipt, error)
}

// Service issues, looks up and redeems tokens.
type Service struct {
	repo Tokens
	log  *zap.Logger
	now  func() time.Time
}

// NewService creates a token service.
func NewService(repo Tokens, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, log: log, now: time.Now}
}

const maxCodeAttempts = 5

// Issue returns the token for (event, student), creating it on first call.
// The bool reports whether this call inserted it. It runs inside the caller's
// transaction when ctx carries one.
func (s *Service) Issue(ctx context.Context, in IssueInput) (Token, bool, error) {
	if in.EventID == "" || in.StudentID == "" {
		return Token{}, false, errors.New("event and student required")
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		existing, err := s.repo.FindByEventStudent(ctx, in.EventID, in.StudentID)
		if err == nil {
			linked, err := s.link(ctx, existing, in)
			return linked, false, err
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Token{}, false, err
		}

		code, err := NewCode()
		if err != nil {
			return Token{}, false, fmt.Errorf("generate code: %w", err)
		}
		t, inserted, err := s.repo.Insert(ctx, Token{
			EventID:         in.EventID,
			StudentID:       in.StudentID,
			TransactionID:   in.TransactionID,
			CoTransactionID: in.CoTransactionID,
			Code:            code,
		})
		if err != nil {
			return Token{}, false, err
		}
		if inserted {
			s.log.Info("token issued", zap.String("token_id", t.ID), zap.String("event_id", t.EventID), zap.String("student_id", t.StudentID))
			return t, true, nil
		}
		// Either a concurrent issue won the (event, student) slot or the code
		// collided; the next lookup tells which.
	}
	return Token{}, false, errors.New("could not allocate a unique token code")
}

func (s *Service) link(ctx context.Context, t Token, in IssueInput) (Token, error) {
	txID, coID := "", ""
	if t.TransactionID == "" && in.TransactionID != "" {
		txID = in.TransactionID
	}
	if t.CoTransactionID == "" && in.CoTransactionID != "" {
		coID = in.CoTransactionID
	}
	if txID == "" && coID == "" {
		return t, nil
	}
	if err := s.repo.Link(ctx, t.ID, txID, coID); err != nil {
		return Token{}, fmt.Errorf("link token: %w", err)
	}
	if txID != "" {
		t.TransactionID = txID
	}
	if coID != "" {
		t.CoTransactionID = coID
	}
	return t, nil
}

// Receipt returns the aggregated receipt view for a token id.
func (s *Service) Receipt(ctx context.Context, tokenID string) (Receipt, error) {
	if tokenID == "" {
		return Receipt{}, store.ErrNotFound
	}
	return s.repo.Receipt(ctx, tokenID)
}

// ReceiptByCode returns the receipt view for a token code.
func (s *Service) ReceiptByCode(ctx context.Context, code string) (Receipt, error) {
	return s.repo.ReceiptByCode(ctx, code)
}

// Scan redeems the token named by a scanner payload. A token is accepted at
// most once; later scans fail with ErrTokenUsed.
func (s *Service) Scan(ctx context.Context, sess auth.Session, payload string) (Receipt, error) {
	code, err := DecodeScan(payload)
	if err != nil {
		return Receipt{}, err
	}
	t, err := s.repo.MarkUsed(ctx, code, sess.UserID, s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrTokenUsed) {
			s.log.Warn("token scanned twice", zap.String("code", code), zap.String("scanned_by", sess.UserID))
		}
		return Receipt{}, err
	}
	s.log.Info("token redeemed", zap.String("token_id", t.ID), zap.String("scanned_by", sess.UserID))
	return s.repo.Receipt(ctx, t.ID)
}

// List pages through tokens; limit 0 returns all of them.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Token, error) {
	return s.repo.List(ctx, limit, offset)
}
