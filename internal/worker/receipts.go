// Package worker runs the background side of the portal: receipt e-mails
// and the sweep that expires abandoned checkouts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eventportal/internal/donation"
	"eventportal/internal/mail"
	"eventportal/internal/metrics"
	"eventportal/internal/queue"
	"eventportal/internal/token"
)

type TokenReceipts interface {
	Receipt(ctx context.Context, tokenID string) (token.Receipt, error)
}

type DonationReceipts interface {
	Get(ctx context.Context, id string) (donation.Donation, error)
	Receipt(ctx context.Context, id string) (donation.ReceiptView, error)
	MarkReceiptSent(ctx context.Context, id string) error
	RecordReceiptAttempt(ctx context.Context, id string) error
}

// Receipts turns receipt jobs into e-mails.
type Receipts struct {
	Tokens     TokenReceipts
	Donations  DonationReceipts
	Mail       mail.Sender
	Jobs       queue.Publisher
	Log        *zap.Logger
	PortalName string

	// MaxAttempts bounds redelivery of a failing job. Backoff is the delay
	// before attempt n+1, multiplied by n.
	MaxAttempts int
	Backoff     time.Duration
}

// Run handles messages until the channel closes or ctx is cancelled.
func (r *Receipts) Run(ctx context.Context, msgs <-chan queue.Message) {
	log := r.logger()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := r.Handle(ctx, msg); err != nil {
				log.Warn("receipt job failed",
					zap.String("kind", msg.Kind),
					zap.String("id", msg.ID),
					zap.Int("attempt", msg.Attempt),
					zap.Error(err))
				r.retry(ctx, msg, err)
			}
		}
	}
}

// Handle processes one job. Unknown kinds are dropped.
func (r *Receipts) Handle(ctx context.Context, msg queue.Message) error {
	switch msg.Kind {
	case queue.KindRegistrationReceipt:
		err := r.registration(ctx, msg.ID)
		metrics.Receipts.WithLabelValues("registration", outcome(err)).Inc()
		return err
	case queue.KindDonationReceipt:
		err := r.donation(ctx, msg.ID)
		metrics.Receipts.WithLabelValues("donation", outcome(err)).Inc()
		return err
	default:
		r.logger().Warn("unknown job kind", zap.String("kind", msg.Kind), zap.String("id", msg.ID))
		return nil
	}
}

func (r *Receipts) registration(ctx context.Context, tokenID string) error {
	rc, err := r.Tokens.Receipt(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("load receipt %s: %w", tokenID, err)
	}
	png, err := token.ReceiptPNG(rc, r.PortalName)
	if err != nil {
		return fmt.Errorf("render receipt %s: %w", tokenID, err)
	}
	if err := r.Mail.Send(ctx, mail.RegistrationReceipt(r.PortalName, rc, png)); err != nil {
		return fmt.Errorf("send receipt %s: %w", tokenID, err)
	}
	r.logger().Info("registration receipt sent", zap.String("token_id", tokenID))
	return nil
}

func (r *Receipts) donation(ctx context.Context, id string) error {
	d, err := r.Donations.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load donation %s: %w", id, err)
	}
	if d.ReceiptSentAt != nil {
		return nil
	}
	if d.Status != donation.StatusCaptured {
		r.logger().Info("donation receipt skipped", zap.String("donation_id", id), zap.String("status", d.Status))
		return nil
	}
	view, err := r.Donations.Receipt(ctx, id)
	if err != nil {
		return fmt.Errorf("load donation receipt %s: %w", id, err)
	}
	png, err := donation.ReceiptPNG(view, r.PortalName)
	if err != nil {
		return fmt.Errorf("render donation receipt %s: %w", id, err)
	}
	if err := r.Mail.Send(ctx, mail.DonationReceipt(r.PortalName, d, view.CategoryName, png)); err != nil {
		if rerr := r.Donations.RecordReceiptAttempt(ctx, id); rerr != nil {
			r.logger().Warn("receipt attempt not recorded", zap.String("donation_id", id), zap.Error(rerr))
		}
		return fmt.Errorf("send donation receipt %s: %w", id, err)
	}
	if err := r.Donations.MarkReceiptSent(ctx, id); err != nil {
		return fmt.Errorf("mark receipt sent %s: %w", id, err)
	}
	r.logger().Info("donation receipt sent", zap.String("donation_id", id))
	return nil
}

func (r *Receipts) retry(ctx context.Context, msg queue.Message, cause error) {
	if errors.Is(cause, mail.ErrNoRecipient) || r.Jobs == nil {
		return
	}
	max := r.MaxAttempts
	if max <= 0 {
		max = 5
	}
	if msg.Attempt+1 >= max {
		r.logger().Error("receipt job dropped", zap.String("kind", msg.Kind), zap.String("id", msg.ID), zap.Error(cause))
		return
	}
	msg.Attempt++
	msg.Queued = time.Time{}
	delay := r.Backoff * time.Duration(msg.Attempt)
	go func() {
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
		if err := r.Jobs.Publish(ctx, msg); err != nil && ctx.Err() == nil {
			r.logger().Error("requeue failed", zap.String("id", msg.ID), zap.Error(err))
		}
	}()
}

func (r *Receipts) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "sent"
}
