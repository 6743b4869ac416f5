package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eventportal/internal/store"
)

const txColumns = `id, event_id, student_id, order_id, COALESCE(payment_id, ''), amount, currency, status, method, raw, created_at, updated_at`

// Repository persists transactions and co-transactions in Postgres.
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

func scanTransaction(row scanner) (Transaction, error) {
	var (
		t   Transaction
		raw []byte
	)
	err := row.Scan(&t.ID, &t.EventID, &t.StudentID, &t.OrderID, &t.PaymentID, &t.Amount, &t.Currency, &t.Status, &t.Method, &raw, &t.CreatedAt, &t.UpdatedAt)
	if len(raw) > 0 {
		t.Raw = raw
	}
	return t, err
}

func rawJSON(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// Insert writes a created transaction.
func (r *Repository) Insert(ctx context.Context, t Transaction) (Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO transactions (id, event_id, student_id, order_id, amount, currency, status, method, raw, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)
	`, t.ID, t.EventID, t.StudentID, t.OrderID, t.Amount, t.Currency, t.Status, t.Method, rawJSON(t.Raw), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

// GetByOrder loads a transaction by gateway order id. With forUpdate the
// row stays locked until the surrounding transaction ends.
func (r *Repository) GetByOrder(ctx context.Context, orderID string, forUpdate bool) (Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions WHERE order_id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	t, err := scanTransaction(r.db.Conn(ctx).QueryRowContext(ctx, q, orderID))
	return t, store.NotFound(err)
}

// Get loads a transaction by id.
func (r *Repository) Get(ctx context.Context, id string) (Transaction, error) {
	t, err := scanTransaction(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
	return t, store.NotFound(err)
}

// Capture marks a transaction captured with the gateway payment details.
func (r *Repository) Capture(ctx context.Context, id, paymentID, method string, raw []byte) (Transaction, error) {
	t, err := scanTransaction(r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE transactions
		SET status = 'captured', payment_id = $2, method = $3, raw = $4::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING `+txColumns, id, paymentID, method, rawJSON(raw)))
	if err != nil {
		return Transaction{}, fmt.Errorf("capture transaction: %w", store.NotFound(err))
	}
	return t, nil
}

// FailCreated marks a created transaction failed. Transactions in any other
// status are returned unchanged with changed=false.
func (r *Repository) FailCreated(ctx context.Context, orderID, reason string) (Transaction, bool, error) {
	t, err := scanTransaction(r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE transactions
		SET status = 'failed', raw = raw || jsonb_build_object('failure_reason', $2::text), updated_at = NOW()
		WHERE order_id = $1 AND status = 'created'
		RETURNING `+txColumns, orderID, reason))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, false, fmt.Errorf("fail transaction: %w", err)
	}
	t, err = r.GetByOrder(ctx, orderID, false)
	return t, false, err
}

// RefundByPayment marks the captured transaction for paymentID refunded.
func (r *Repository) RefundByPayment(ctx context.Context, paymentID string) (Transaction, bool, error) {
	t, err := scanTransaction(r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE transactions SET status = 'refunded', updated_at = NOW()
		WHERE payment_id = $1 AND status = 'captured'
		RETURNING `+txColumns, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := r.db.Conn(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM transactions WHERE payment_id = $1)`, paymentID).Scan(&exists); err != nil {
			return Transaction{}, false, err
		}
		if !exists {
			return Transaction{}, false, store.ErrNotFound
		}
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, fmt.Errorf("refund transaction: %w", err)
	}
	return t, true, nil
}

// HasCaptured reports whether the student already paid for the event.
func (r *Repository) HasCaptured(ctx context.Context, eventID, studentID string) (bool, error) {
	var ok bool
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE event_id = $1 AND student_id = $2 AND status = 'captured')
	`, eventID, studentID).Scan(&ok)
	return ok, err
}

// ExpireCreated fails created transactions older than before.
func (r *Repository) ExpireCreated(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE transactions
		SET status = 'failed', raw = raw || '{"failure_reason":"expired"}'::jsonb, updated_at = NOW()
		WHERE status = 'created' AND created_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns transactions newest first. A zero limit returns all rows.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions`
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

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const coColumns = `id, amount, currency, status, method, storage_ref, note, created_by, created_at`

func scanCo(row scanner) (CoTransaction, error) {
	var c CoTransaction
	err := row.Scan(&c.ID, &c.Amount, &c.Currency, &c.Status, &c.Method, &c.StorageRef, &c.Note, &c.CreatedBy, &c.CreatedAt)
	return c, err
}

// InsertCo writes an offline payment.
func (r *Repository) InsertCo(ctx context.Context, c CoTransaction) (CoTransaction, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO co_transactions (id, amount, currency, status, method, storage_ref, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, c.ID, c.Amount, c.Currency, c.Status, c.Method, c.StorageRef, c.Note, c.CreatedBy).Scan(&c.CreatedAt)
	if err != nil {
		return CoTransaction{}, fmt.Errorf("insert co-transaction: %w", err)
	}
	return c, nil
}

// GetCo loads an offline payment.
func (r *Repository) GetCo(ctx context.Context, id string) (CoTransaction, error) {
	c, err := scanCo(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+coColumns+` FROM co_transactions WHERE id = $1`, id))
	return c, store.NotFound(err)
}

// UpdateCoStatus sets the status of an offline payment.
func (r *Repository) UpdateCoStatus(ctx context.Context, id, status string) (CoTransaction, error) {
	c, err := scanCo(r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE co_transactions SET status = $2 WHERE id = $1
		RETURNING `+coColumns, id, status))
	return c, store.NotFound(err)
}

// DeleteCo removes an offline payment. Tokens keep existing with the link
// cleared.
func (r *Repository) DeleteCo(ctx context.Context, id string) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM co_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete co-transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListCo returns offline payments newest first. A zero limit returns all.
func (r *Repository) ListCo(ctx context.Context, limit, offset int) ([]CoTransaction, error) {
	q := `SELECT ` + coColumns + ` FROM co_transactions ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	rows, err := r.db.Conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CoTransaction
	for rows.Next() {
		c, err := scanCo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
