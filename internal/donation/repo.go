package donation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eventportal/internal/store"
)

const donationColumns = `id, donor_name, donor_email, donor_phone, amount, currency, COALESCE(order_id, ''), COALESCE(payment_id, ''),
	status, category_id, anonymous, message, receipt_sent_at, receipt_attempts, created_at, updated_at`

// Repository persists donations and categories in Postgres.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDonation(row scanner) (Donation, error) {
	var d Donation
	err := row.Scan(&d.ID, &d.DonorName, &d.DonorEmail, &d.DonorPhone, &d.Amount, &d.Currency, &d.OrderID, &d.PaymentID,
		&d.Status, &d.CategoryID, &d.Anonymous, &d.Message, &d.ReceiptSentAt, &d.ReceiptAttempts, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// Insert writes a pending donation.
func (r *Repository) Insert(ctx context.Context, d Donation) (Donation, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO donations (id, donor_name, donor_email, donor_phone, amount, currency, status, category_id, anonymous, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, d.ID, d.DonorName, d.DonorEmail, d.DonorPhone, d.Amount, d.Currency, d.Status, d.CategoryID, d.Anonymous, d.Message, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return Donation{}, fmt.Errorf("insert donation: %w", err)
	}
	return d, nil
}

// Get loads a donation by id.
func (r *Repository) Get(ctx context.Context, id string) (Donation, error) {
	d, err := scanDonation(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+donationColumns+` FROM donations WHERE id = $1`, id))
	return d, store.NotFound(err)
}

// GetByOrder loads a donation by gateway order id, optionally locking it.
func (r *Repository) GetByOrder(ctx context.Context, orderID string, forUpdate bool) (Donation, error) {
	q := `SELECT ` + donationColumns + ` FROM donations WHERE order_id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	d, err := scanDonation(r.db.Conn(ctx).QueryRowContext(ctx, q, orderID))
	return d, store.NotFound(err)
}

// SetOrder stores the gateway order id.
func (r *Repository) SetOrder(ctx context.Context, id, orderID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `UPDATE donations SET order_id = $2, updated_at = NOW() WHERE id = $1`, id, orderID)
	return err
}

// SetStatus moves a donation to status and records the payment id when given.
func (r *Repository) SetStatus(ctx context.Context, id, status, paymentID string) (Donation, error) {
	d, err := scanDonation(r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE donations
		SET status = $2, payment_id = COALESCE(NULLIF($3, ''), payment_id), updated_at = NOW()
		WHERE id = $1
		RETURNING `+donationColumns, id, status, paymentID))
	return d, store.NotFound(err)
}

// FailPending marks a pending donation failed. Others are returned unchanged.
func (r *Repository) FailPending(ctx context.Context, orderID string) (Donation, bool, error) {
	d, err := scanDonation(r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE donations SET status = 'failed', updated_at = NOW()
		WHERE order_id = $1 AND status = 'pending'
		RETURNING `+donationColumns, orderID))
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Donation{}, false, err
	}
	d, err = r.GetByOrder(ctx, orderID, false)
	return d, false, err
}

// RefundByPayment marks a captured donation refunded.
func (r *Repository) RefundByPayment(ctx context.Context, paymentID string) (Donation, bool, error) {
	d, err := scanDonation(r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE donations SET status = 'refunded', updated_at = NOW()
		WHERE payment_id = $1 AND status = 'captured'
		RETURNING `+donationColumns, paymentID))
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Donation{}, false, err
	}
	d, err = scanDonation(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+donationColumns+` FROM donations WHERE payment_id = $1`, paymentID))
	return d, false, store.NotFound(err)
}

// ExpirePending fails pending donations created before the cutoff.
func (r *Repository) ExpirePending(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE donations SET status = 'failed', updated_at = NOW()
		WHERE status = 'pending' AND created_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkReceiptSent records a delivered receipt e-mail.
func (r *Repository) MarkReceiptSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE donations SET receipt_sent_at = $2, receipt_attempts = receipt_attempts + 1 WHERE id = $1
	`, id, at)
	return err
}

// RecordReceiptAttempt counts a failed receipt delivery.
func (r *Repository) RecordReceiptAttempt(ctx context.Context, id string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `UPDATE donations SET receipt_attempts = receipt_attempts + 1 WHERE id = $1`, id)
	return err
}

// List returns donations newest first. A zero limit returns all.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Donation, error) {
	q := `SELECT ` + donationColumns + ` FROM donations`
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		q += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}
	rows, err := r.db.Conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const categoryColumns = `id, name, active, sort_order, is_default, min_amount, max_amount, created_at`

func scanCategory(row scanner) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.Name, &c.Active, &c.SortOrder, &c.IsDefault, &c.MinAmount, &c.MaxAmount, &c.CreatedAt)
	return c, err
}

// GetCategory loads a category.
func (r *Repository) GetCategory(ctx context.Context, id string) (Category, error) {
	c, err := scanCategory(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM donation_categories WHERE id = $1`, id))
	return c, store.NotFound(err)
}

// DefaultCategory loads the active default category.
func (r *Repository) DefaultCategory(ctx context.Context) (Category, error) {
	c, err := scanCategory(r.db.Conn(ctx).QueryRowContext(ctx, `
		SELECT `+categoryColumns+` FROM donation_categories
		WHERE is_default AND active ORDER BY sort_order LIMIT 1
	`))
	return c, store.NotFound(err)
}

// ListCategories returns categories by sort order.
func (r *Repository) ListCategories(ctx context.Context, activeOnly bool) ([]Category, error) {
	q := `SELECT ` + categoryColumns + ` FROM donation_categories`
	if activeOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY sort_order, name`
	rows, err := r.db.Conn(ctx).QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertCategory writes a category.
func (r *Repository) InsertCategory(ctx context.Context, c Category) (Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO donation_categories (id, name, active, sort_order, is_default, min_amount, max_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, c.ID, c.Name, c.Active, c.SortOrder, c.IsDefault, c.MinAmount, c.MaxAmount).Scan(&c.CreatedAt)
	if store.IsUniqueViolation(err) {
		return Category{}, ErrDefaultTaken
	}
	if err != nil {
		return Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

// UpdateCategory overwrites a category.
func (r *Repository) UpdateCategory(ctx context.Context, c Category) (Category, error) {
	out, err := scanCategory(r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE donation_categories
		SET name = $2, active = $3, sort_order = $4, is_default = $5, min_amount = $6, max_amount = $7
		WHERE id = $1
		RETURNING `+categoryColumns, c.ID, c.Name, c.Active, c.SortOrder, c.IsDefault, c.MinAmount, c.MaxAmount))
	if store.IsUniqueViolation(err) {
		return Category{}, ErrDefaultTaken
	}
	return out, store.NotFound(err)
}

// ClearDefault unsets the default flag on every category except keepID.
func (r *Repository) ClearDefault(ctx context.Context, keepID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE donation_categories SET is_default = FALSE WHERE is_default AND id <> $1
	`, keepID)
	return err
}
