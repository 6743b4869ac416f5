package donation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventportal/internal/queue"
	"eventportal/internal/razorpay"
	"eventportal/internal/store"
	"eventportal/internal/validation"
)

// Donations is the persistence the service needs.
type Donations interface {
	Insert(ctx context.Context, d Donation) (Donation, error)
	Get(ctx context.Context, id string) (Donation, error)
	GetByOrder(ctx context.Context, orderID string, forUpdate bool) (Donation, error)
	SetOrder(ctx context.Context, id, orderID string) error
	SetStatus(ctx context.Context, id, status, paymentID string) (Donation, error)
	FailPending(ctx context.Context, orderID string) (Donation, bool, error)
	RefundByPayment(ctx context.Context, paymentID string) (Donation, bool, error)
	ExpirePending(ctx context.Context, before time.Time) (int64, error)
	MarkReceiptSent(ctx context.Context, id string, at time.Time) error
	RecordReceiptAttempt(ctx context.Context, id string) error
	List(ctx context.Context, f ListFilter) ([]Donation, error)

	GetCategory(ctx context.Context, id string) (Category, error)
	DefaultCategory(ctx context.Context) (Category, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]Category, error)
	InsertCategory(ctx context.Context, c Category) (Category, error)
	UpdateCategory(ctx context.Context, c Category) (Category, error)
	ClearDefault(ctx context.Context, keepID string) error
}

// Deps groups the collaborators of the service.
type Deps struct {
	Repo     Donations
	Tx       store.Locker
	Gateway  razorpay.Gateway
	Jobs     queue.Publisher
	Log      *zap.Logger
	Currency string
}

// Service runs the donation flow.
type Service struct {
	Deps
	now func() time.Time
}

// NewService wires the donation service.
func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Currency == "" {
		d.Currency = "INR"
	}
	return &Service{Deps: d, now: time.Now}
}

const defaultCategoryLock = "donation_category:default"

// ListCategories returns the categories shown on the form, or all of them
// for the admin view.
func (s *Service) ListCategories(ctx context.Context, activeOnly bool) ([]Category, error) {
	return s.Repo.ListCategories(ctx, activeOnly)
}

// CreateCategory adds a category. A new default replaces the old one.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (Category, error) {
	if err := in.validate(); err != nil {
		return Category{}, err
	}
	var out Category
	c := categoryOf(uuid.NewString(), in)
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.claimDefault(ctx, c); err != nil {
			return err
		}
		var err error
		out, err = s.Repo.InsertCategory(ctx, c)
		return err
	})
	return out, err
}

// UpdateCategory replaces a category.
func (s *Service) UpdateCategory(ctx context.Context, id string, in CategoryInput) (Category, error) {
	if err := in.validate(); err != nil {
		return Category{}, err
	}
	var out Category
	c := categoryOf(id, in)
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.claimDefault(ctx, c); err != nil {
			return err
		}
		var err error
		out, err = s.Repo.UpdateCategory(ctx, c)
		return err
	})
	return out, err
}

// claimDefault serializes default changes and unsets the current default
// before c is written, so the partial unique index never sees two.
func (s *Service) claimDefault(ctx context.Context, c Category) error {
	if !c.IsDefault {
		return nil
	}
	if err := s.Tx.LockKeys(ctx, defaultCategoryLock); err != nil {
		return err
	}
	return s.Repo.ClearDefault(ctx, c.ID)
}

func categoryOf(id string, in CategoryInput) Category {
	return Category{
		ID:        id,
		Name:      in.Name,
		Active:    in.Active,
		SortOrder: in.SortOrder,
		IsDefault: in.IsDefault,
		MinAmount: in.MinAmount,
		MaxAmount: in.MaxAmount,
	}
}

// Create validates the form, records a pending donation and opens a gateway
// order for it.
func (s *Service) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	in.normalize()
	if err := validation.Struct(in); err != nil {
		return CreateResult{}, err
	}
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return CreateResult{}, err
	}
	cat, err := s.category(ctx, in.CategoryID)
	if err != nil {
		return CreateResult{}, err
	}
	if cat.MinAmount != nil && amount < *cat.MinAmount {
		return CreateResult{}, validation.Field("amount", fmt.Sprintf("must be at least %d for %s", *cat.MinAmount, cat.Name))
	}
	if cat.MaxAmount != nil && amount > *cat.MaxAmount {
		return CreateResult{}, validation.Field("amount", fmt.Sprintf("must be at most %d for %s", *cat.MaxAmount, cat.Name))
	}

	d, err := s.Repo.Insert(ctx, Donation{
		ID:         uuid.NewString(),
		DonorName:  in.DonorName,
		DonorEmail: in.DonorEmail,
		DonorPhone: in.DonorPhone,
		Amount:     amount,
		Currency:   s.Currency,
		Status:     StatusPending,
		CategoryID: cat.ID,
		Anonymous:  in.Anonymous,
		Message:    in.Message,
	})
	if err != nil {
		return CreateResult{}, err
	}
	order, err := s.Gateway.CreateOrder(ctx, razorpay.OrderRequest{
		Amount:   amount,
		Currency: s.Currency,
		Receipt:  d.ID,
		Notes: map[string]string{
			"kind":        "donation",
			"donation_id": d.ID,
			"category":    cat.Name,
		},
	})
	if err != nil {
		if _, serr := s.Repo.SetStatus(ctx, d.ID, StatusFailed, ""); serr != nil {
			s.Log.Error("mark donation failed", zap.String("donation_id", d.ID), zap.Error(serr))
		}
		return CreateResult{}, err
	}
	if err := s.Repo.SetOrder(ctx, d.ID, order.ID); err != nil {
		return CreateResult{}, err
	}
	s.Log.Info("donation order created",
		zap.String("donation_id", d.ID), zap.String("order_id", order.ID), zap.Int64("amount", amount))
	return CreateResult{
		DonationID: d.ID,
		OrderID:    order.ID,
		Amount:     razorpay.ToSubunits(amount),
		Currency:   s.Currency,
		KeyID:      s.Gateway.KeyID(),
	}, nil
}

func (s *Service) category(ctx context.Context, id string) (Category, error) {
	if id == "" {
		c, err := s.Repo.DefaultCategory(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return Category{}, validation.Field("category_id", "is required")
		}
		return c, err
	}
	c, err := s.Repo.GetCategory(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !c.Active) {
		return Category{}, validation.Field("category_id", "is not an active category")
	}
	return c, err
}

// Verify checks the checkout signature and captures the donation.
// Verifying a captured donation again is a no-op.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (Donation, error) {
	if err := validation.Struct(in); err != nil {
		return Donation{}, err
	}
	if err := s.Gateway.VerifyPayment(in.OrderID, in.PaymentID, in.Signature); err != nil {
		s.Log.Warn("donation signature rejected", zap.String("order_id", in.OrderID), zap.String("payment_id", in.PaymentID))
		return Donation{}, err
	}
	return s.capture(ctx, in.OrderID, in.PaymentID)
}

func (s *Service) capture(ctx context.Context, orderID, paymentID string) (Donation, error) {
	var (
		out      Donation
		captured bool
	)
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.Repo.GetByOrder(ctx, orderID, true)
		if err != nil {
			return err
		}
		switch d.Status {
		case StatusCaptured:
			out = d
			return nil
		case StatusPending, StatusFailed:
			d, err = s.Repo.SetStatus(ctx, d.ID, StatusCaptured, paymentID)
			if err != nil {
				return err
			}
			out, captured = d, true
			return nil
		default:
			return fmt.Errorf("%w: %s donation cannot be captured", ErrInvalidStatus, d.Status)
		}
	})
	if err != nil {
		return Donation{}, err
	}
	if captured {
		s.Log.Info("donation captured", zap.String("donation_id", out.ID), zap.String("payment_id", paymentID))
		s.publish(ctx, out.ID)
	}
	return out, nil
}

// Fail records a failed or dismissed donation checkout. Captured donations
// are left alone.
func (s *Service) Fail(ctx context.Context, in FailInput) (Donation, error) {
	if err := validation.Struct(in); err != nil {
		return Donation{}, err
	}
	d, changed, err := s.Repo.FailPending(ctx, in.OrderID)
	if err != nil {
		return Donation{}, err
	}
	if changed {
		s.Log.Info("donation failed", zap.String("donation_id", d.ID), zap.String("reason", in.Reason))
	}
	return d, nil
}

// OwnsOrder reports whether orderID belongs to a donation.
func (s *Service) OwnsOrder(ctx context.Context, orderID string) (bool, error) {
	_, err := s.Repo.GetByOrder(ctx, orderID, false)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ApplyWebhook handles a verified gateway event for a donation order.
func (s *Service) ApplyWebhook(ctx context.Context, evt razorpay.WebhookEvent) error {
	switch evt.Event {
	case razorpay.EventPaymentCaptured:
		p, ok := evt.PaymentEntity()
		if !ok {
			return errors.New("payment.captured without payment entity")
		}
		_, err := s.capture(ctx, p.OrderID, p.ID)
		return err
	case razorpay.EventPaymentFailed:
		p, ok := evt.PaymentEntity()
		if !ok {
			return errors.New("payment.failed without payment entity")
		}
		_, err := s.Fail(ctx, FailInput{OrderID: p.OrderID, Reason: p.ErrorDescription})
		return err
	case razorpay.EventRefundProcessed:
		paymentID := ""
		if evt.Payload.Refund != nil {
			paymentID = evt.Payload.Refund.Entity.PaymentID
		}
		if p, ok := evt.PaymentEntity(); ok && paymentID == "" {
			paymentID = p.ID
		}
		d, changed, err := s.Repo.RefundByPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if changed {
			s.Log.Info("donation refunded", zap.String("donation_id", d.ID), zap.String("payment_id", paymentID))
		}
	}
	return nil
}

// Receipt returns the public view of a donation.
func (s *Service) Receipt(ctx context.Context, id string) (ReceiptView, error) {
	d, err := s.Repo.Get(ctx, id)
	if err != nil {
		return ReceiptView{}, err
	}
	name := ""
	if c, err := s.Repo.GetCategory(ctx, d.CategoryID); err == nil {
		name = c.Name
	} else if !errors.Is(err, store.ErrNotFound) {
		return ReceiptView{}, err
	}
	return viewOf(d, name), nil
}

// Get returns the full donation record for admin and worker use.
func (s *Service) Get(ctx context.Context, id string) (Donation, error) {
	return s.Repo.Get(ctx, id)
}

// MarkReceiptSent records a delivered receipt e-mail.
func (s *Service) MarkReceiptSent(ctx context.Context, id string) error {
	return s.Repo.MarkReceiptSent(ctx, id, s.now().UTC())
}

// RecordReceiptAttempt counts a failed receipt delivery.
func (s *Service) RecordReceiptAttempt(ctx context.Context, id string) error {
	return s.Repo.RecordReceiptAttempt(ctx, id)
}

// ExpireStale fails pending donations older than ttl.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	return s.Repo.ExpirePending(ctx, s.now().Add(-ttl))
}

// List pages through donations.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Donation, error) {
	return s.Repo.List(ctx, f)
}

func (s *Service) publish(ctx context.Context, id string) {
	if s.Jobs == nil {
		return
	}
	if err := s.Jobs.Publish(ctx, queue.Message{Kind: queue.KindDonationReceipt, ID: id}); err != nil {
		s.Log.Error("queue publish failed", zap.String("donation_id", id), zap.Error(err))
	}
}
