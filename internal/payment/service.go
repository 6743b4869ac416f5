package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventportal/internal/auth"
	"eventportal/internal/event"
	"eventportal/internal/queue"
	"eventportal/internal/razorpay"
	"eventportal/internal/registration"
	"eventportal/internal/store"
	"eventportal/internal/token"
	"eventportal/internal/validation"
)

// Payments is the persistence the service needs.
type Payments interface {
	Insert(ctx context.Context, t Transaction) (Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
	GetByOrder(ctx context.Context, orderID string, forUpdate bool) (Transaction, error)
	Capture(ctx context.Context, id, paymentID, method string, raw []byte) (Transaction, error)
	FailCreated(ctx context.Context, orderID, reason string) (Transaction, bool, error)
	RefundByPayment(ctx context.Context, paymentID string) (Transaction, bool, error)
	HasCaptured(ctx context.Context, eventID, studentID string) (bool, error)
	ExpireCreated(ctx context.Context, before time.Time) (int64, error)
	List(ctx context.Context, f ListFilter) ([]Transaction, error)

	InsertCo(ctx context.Context, c CoTransaction) (CoTransaction, error)
	GetCo(ctx context.Context, id string) (CoTransaction, error)
	UpdateCoStatus(ctx context.Context, id, status string) (CoTransaction, error)
	DeleteCo(ctx context.Context, id string) error
	ListCo(ctx context.Context, limit, offset int) ([]CoTransaction, error)
}

type EventLookup interface {
	Get(ctx context.Context, id string) (event.Event, error)
}

type StudentLookup interface {
	Get(ctx context.Context, id string) (registration.Student, error)
}

type TokenIssuer interface {
	Issue(ctx context.Context, in token.IssueInput) (token.Token, bool, error)
}

// Deps groups the collaborators of the service.
type Deps struct {
	Repo           Payments
	Tx             store.Transactor
	Gateway        razorpay.Gateway
	Events         EventLookup
	Students       StudentLookup
	Tokens         TokenIssuer
	Jobs           queue.Publisher
	Log            *zap.Logger
	DefaultEventID string
	Currency       string
}

// Service runs the registration payment flow.
type Service struct {
	Deps
	now func() time.Time
}

// NewService wires the payment service.
func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Currency == "" {
		d.Currency = "INR"
	}
	return &Service{Deps: d, now: time.Now}
}

// CreateOrder opens a gateway order for the event fee and records a created
// transaction. Free events skip the gateway and issue the token directly.
func (s *Service) CreateOrder(ctx context.Context, in OrderInput) (OrderResult, error) {
	if in.EventID == "" {
		in.EventID = s.DefaultEventID
	}
	if err := validation.Struct(in); err != nil {
		return OrderResult{}, err
	}
	if in.EventID == "" {
		return OrderResult{}, validation.Field("event_id", "is required")
	}
	evt, err := s.Events.Get(ctx, in.EventID)
	if err != nil {
		return OrderResult{}, fmt.Errorf("load event: %w", err)
	}
	if _, err := s.Students.Get(ctx, in.StudentID); err != nil {
		return OrderResult{}, fmt.Errorf("load student: %w", err)
	}
	paid, err := s.Repo.HasCaptured(ctx, evt.ID, in.StudentID)
	if err != nil {
		return OrderResult{}, err
	}
	if paid {
		return OrderResult{}, ErrAlreadyPaid
	}

	if evt.Fee == 0 {
		tok, created, err := s.Tokens.Issue(ctx, token.IssueInput{EventID: evt.ID, StudentID: in.StudentID})
		if err != nil {
			return OrderResult{}, err
		}
		if created {
			s.publish(ctx, tok.ID)
		}
		return OrderResult{Free: true, TokenID: tok.ID, EventName: evt.Name, Currency: s.Currency}, nil
	}

	txID := newID()
	order, err := s.Gateway.CreateOrder(ctx, razorpay.OrderRequest{
		Amount:   evt.Fee,
		Currency: s.Currency,
		Receipt:  txID,
		Notes: map[string]string{
			"kind":           "registration",
			"transaction_id": txID,
			"event_id":       evt.ID,
			"student_id":     in.StudentID,
		},
	})
	if err != nil {
		return OrderResult{}, err
	}
	t, err := s.Repo.Insert(ctx, Transaction{
		ID:        txID,
		EventID:   evt.ID,
		StudentID: in.StudentID,
		OrderID:   order.ID,
		Amount:    evt.Fee,
		Currency:  s.Currency,
		Status:    StatusCreated,
	})
	if err != nil {
		return OrderResult{}, err
	}
	s.Log.Info("payment order created",
		zap.String("transaction_id", t.ID), zap.String("order_id", order.ID), zap.Int64("amount", evt.Fee))
	return OrderResult{
		TransactionID: t.ID,
		OrderID:       order.ID,
		Amount:        razorpay.ToSubunits(evt.Fee),
		Currency:      s.Currency,
		KeyID:         s.Gateway.KeyID(),
		EventName:     evt.Name,
	}, nil
}

// Verify checks the checkout signature and, in one database transaction,
// captures the transaction and issues its token. Verifying an already
// captured order returns the same token.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (VerifyResult, error) {
	if err := validation.Struct(in); err != nil {
		return VerifyResult{}, err
	}
	if err := s.Gateway.VerifyPayment(in.OrderID, in.PaymentID, in.Signature); err != nil {
		s.Log.Warn("payment signature rejected", zap.String("order_id", in.OrderID), zap.String("payment_id", in.PaymentID))
		return VerifyResult{}, err
	}
	raw, _ := json.Marshal(map[string]string{
		"source":     "checkout",
		"order_id":   in.OrderID,
		"payment_id": in.PaymentID,
		"method":     in.Method,
	})
	return s.capture(ctx, in.OrderID, in.PaymentID, in.Method, raw)
}

func (s *Service) capture(ctx context.Context, orderID, paymentID, method string, raw []byte) (VerifyResult, error) {
	var (
		res      VerifyResult
		captured bool
	)
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.Repo.GetByOrder(ctx, orderID, true)
		if err != nil {
			return err
		}
		switch t.Status {
		case StatusCaptured:
			if t.PaymentID != "" && t.PaymentID != paymentID {
				s.Log.Warn("second payment for captured order",
					zap.String("order_id", orderID), zap.String("captured", t.PaymentID), zap.String("incoming", paymentID))
			}
		case StatusCreated, StatusFailed:
			// A failure report can race a late success; money taken wins.
			t, err = s.Repo.Capture(ctx, t.ID, paymentID, method, raw)
			if err != nil {
				return err
			}
			captured = true
		default:
			return fmt.Errorf("%w: %s transaction cannot be captured", ErrInvalidStatus, t.Status)
		}
		tok, _, err := s.Tokens.Issue(ctx, token.IssueInput{EventID: t.EventID, StudentID: t.StudentID, TransactionID: t.ID})
		if err != nil {
			return err
		}
		res = VerifyResult{Transaction: t, TokenID: tok.ID, TokenCode: tok.Code}
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}
	if captured {
		s.Log.Info("payment captured",
			zap.String("transaction_id", res.Transaction.ID), zap.String("payment_id", paymentID), zap.String("token_id", res.TokenID))
		s.publish(ctx, res.TokenID)
	}
	return res, nil
}

// MarkFailed records a failed or dismissed checkout. Captured transactions
// are left alone.
func (s *Service) MarkFailed(ctx context.Context, in FailInput) (Transaction, error) {
	if err := validation.Struct(in); err != nil {
		return Transaction{}, err
	}
	t, changed, err := s.Repo.FailCreated(ctx, in.OrderID, in.Reason)
	if err != nil {
		return Transaction{}, err
	}
	if changed {
		s.Log.Info("payment failed", zap.String("order_id", in.OrderID), zap.String("reason", in.Reason))
	}
	return t, nil
}

// OwnsOrder reports whether orderID belongs to a registration transaction.
func (s *Service) OwnsOrder(ctx context.Context, orderID string) (bool, error) {
	_, err := s.Repo.GetByOrder(ctx, orderID, false)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ApplyWebhook handles a verified gateway event for a registration order.
func (s *Service) ApplyWebhook(ctx context.Context, evt razorpay.WebhookEvent, raw []byte) error {
	switch evt.Event {
	case razorpay.EventPaymentCaptured:
		p, ok := evt.PaymentEntity()
		if !ok {
			return errors.New("payment.captured without payment entity")
		}
		_, err := s.capture(ctx, p.OrderID, p.ID, p.Method, raw)
		return err
	case razorpay.EventPaymentFailed:
		p, ok := evt.PaymentEntity()
		if !ok {
			return errors.New("payment.failed without payment entity")
		}
		_, err := s.MarkFailed(ctx, FailInput{OrderID: p.OrderID, Reason: clip(p.ErrorDescription, 500)})
		return err
	case razorpay.EventRefundProcessed:
		paymentID := ""
		if evt.Payload.Refund != nil {
			paymentID = evt.Payload.Refund.Entity.PaymentID
		}
		if p, ok := evt.PaymentEntity(); ok && paymentID == "" {
			paymentID = p.ID
		}
		t, changed, err := s.Repo.RefundByPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if changed {
			s.Log.Info("payment refunded", zap.String("transaction_id", t.ID), zap.String("payment_id", paymentID))
		}
		return nil
	}
	return nil
}

// ExpireStale fails created transactions older than ttl.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	return s.Repo.ExpireCreated(ctx, s.now().Add(-ttl))
}

// List pages through transactions.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Transaction, error) {
	return s.Repo.List(ctx, f)
}

// CreateCoTransaction records an offline payment and issues the
// registration token in the same database transaction.
func (s *Service) CreateCoTransaction(ctx context.Context, sess auth.Session, in CoTransactionInput) (CoTransactionResult, error) {
	if in.EventID == "" {
		in.EventID = s.DefaultEventID
	}
	if err := validation.Struct(in); err != nil {
		return CoTransactionResult{}, err
	}
	if in.EventID == "" {
		return CoTransactionResult{}, validation.Field("event_id", "is required")
	}
	var res CoTransactionResult
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.Events.Get(ctx, in.EventID); err != nil {
			return fmt.Errorf("load event: %w", err)
		}
		if _, err := s.Students.Get(ctx, in.StudentID); err != nil {
			return fmt.Errorf("load student: %w", err)
		}
		co, err := s.Repo.InsertCo(ctx, CoTransaction{
			Amount:     in.Amount,
			Currency:   s.Currency,
			Status:     in.Status,
			Method:     in.Method,
			StorageRef: in.StorageRef,
			Note:       in.Note,
			CreatedBy:  sess.UserID,
		})
		if err != nil {
			return err
		}
		tok, _, err := s.Tokens.Issue(ctx, token.IssueInput{EventID: in.EventID, StudentID: in.StudentID, CoTransactionID: co.ID})
		if err != nil {
			return err
		}
		res = CoTransactionResult{CoTransaction: co, TokenID: tok.ID, TokenCode: tok.Code}
		return nil
	})
	if err != nil {
		return CoTransactionResult{}, err
	}
	s.Log.Info("co-transaction recorded",
		zap.String("co_transaction_id", res.CoTransaction.ID), zap.String("token_id", res.TokenID), zap.String("by", sess.UserID))
	if res.CoTransaction.Status == CoStatusPaid {
		s.publish(ctx, res.TokenID)
	}
	return res, nil
}

// UpdateCoTransactionStatus changes the status of an offline payment.
func (s *Service) UpdateCoTransactionStatus(ctx context.Context, id, status string) (CoTransaction, error) {
	switch status {
	case CoStatusPaid, CoStatusPending, CoStatusException:
	default:
		return CoTransaction{}, validation.Field("status", "must be one of paid pending exception")
	}
	return s.Repo.UpdateCoStatus(ctx, id, status)
}

// DeleteCoTransaction removes an offline payment.
func (s *Service) DeleteCoTransaction(ctx context.Context, id string) error {
	return s.Repo.DeleteCo(ctx, id)
}

// ListCoTransactions pages through offline payments.
func (s *Service) ListCoTransactions(ctx context.Context, limit, offset int) ([]CoTransaction, error) {
	return s.Repo.ListCo(ctx, limit, offset)
}

func (s *Service) publish(ctx context.Context, tokenID string) {
	if s.Jobs == nil || tokenID == "" {
		return
	}
	if err := s.Jobs.Publish(ctx, queue.Message{Kind: queue.KindRegistrationReceipt, ID: tokenID}); err != nil {
		s.Log.Error("queue publish failed", zap.String("token_id", tokenID), zap.Error(err))
	}
}

func newID() string { return uuid.NewString() }

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
