package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eventportal/internal/store"
)

const tokenColumns = `id, event_id, student_id, COALESCE(transaction_id, ''), COALESCE(co_transaction_id, ''), code, is_used, used_at, used_by, created_at`

// Repository persists tokens in Postgres.
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

func scanToken(row scanner) (Token, error) {
	var t Token
	err := row.Scan(&t.ID, &t.EventID, &t.StudentID, &t.TransactionID, &t.CoTransactionID, &t.Code, &t.IsUsed, &t.UsedAt, &t.UsedBy, &t.CreatedAt)
	return t, err
}

// FindByEventStudent returns the token for a registration.
func (r *Repository) FindByEventStudent(ctx context.Context, eventID, studentID string) (Token, error) {
	t, err := scanToken(r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE event_id = $1 AND student_id = $2`, eventID, studentID))
	return t, store.NotFound(err)
}

// Insert writes t unless a token already exists for the registration or the
// code is taken. inserted is false in both cases so the caller can tell
// them apart without aborting the surrounding transaction.
func (r *Repository) Insert(ctx context.Context, t Token) (Token, bool, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO tokens (id, event_id, student_id, transaction_id, co_transaction_id, code)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		ON CONFLICT DO NOTHING
		RETURNING created_at
	`, t.ID, t.EventID, t.StudentID, t.TransactionID, t.CoTransactionID, t.Code).Scan(&t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("insert token: %w", err)
	}
	return t, true, nil
}

// Link attaches a payment record to an existing token. Empty ids leave the
// column unchanged.
func (r *Repository) Link(ctx context.Context, id, transactionID, coTransactionID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE tokens
		SET transaction_id = COALESCE(NULLIF($2, ''), transaction_id),
		    co_transaction_id = COALESCE(NULLIF($3, ''), co_transaction_id)
		WHERE id = $1
	`, id, transactionID, coTransactionID)
	return err
}

// MarkUsed flips is_used in one conditional statement. Zero affected rows
// means the code was already used or does not exist.
func (r *Repository) MarkUsed(ctx context.Context, code, usedBy string, at time.Time) (Token, error) {
	t, err := scanToken(r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE tokens SET is_used = TRUE, used_at = $3, used_by = $2
		WHERE code = $1 AND is_used = FALSE
		RETURNING `+tokenColumns, code, usedBy, at))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Token{}, fmt.Errorf("mark token used: %w", err)
	}
	var exists bool
	if err := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tokens WHERE code = $1)`, code).Scan(&exists); err != nil {
		return Token{}, err
	}
	if exists {
		return Token{}, ErrTokenUsed
	}
	return Token{}, store.ErrNotFound
}

// List returns tokens newest first. A zero limit returns every token.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const receiptQuery = `
	SELECT k.id, k.code, k.is_used, k.used_at, k.created_at,
	       e.id, e.name, e.food_included, e.fee, e.starts_at, e.ends_at,
	       s.id, s.name, s.email, s.phone, s.batch_year,
	       t.id, t.order_id, t.payment_id, t.amount, t.currency, t.status, t.method, t.updated_at,
	       c.id, c.amount, c.currency, c.status, c.method, c.created_at
	FROM tokens k
	JOIN events e ON e.id = k.event_id
	JOIN students s ON s.id = k.student_id
	LEFT JOIN transactions t ON t.id = k.transaction_id
	LEFT JOIN co_transactions c ON c.id = k.co_transaction_id
`

// Receipt loads the aggregated view for a token id.
func (r *Repository) Receipt(ctx context.Context, id string) (Receipt, error) {
	return scanReceipt(r.db.Conn(ctx).QueryRowContext(ctx, receiptQuery+` WHERE k.id = $1`, id))
}

// ReceiptByCode loads the aggregated view for a token code.
func (r *Repository) ReceiptByCode(ctx context.Context, code string) (Receipt, error) {
	return scanReceipt(r.db.Conn(ctx).QueryRowContext(ctx, receiptQuery+` WHERE k.code = $1`, code))
}

func scanReceipt(row scanner) (Receipt, error) {
	var (
		rc Receipt
		tx struct {
			id, orderID, paymentID, currency, status, method sql.NullString
			amount                                           sql.NullInt64
			at                                               sql.NullTime
		}
		co struct {
			id, currency, status, method sql.NullString
			amount                       sql.NullInt64
			at                           sql.NullTime
		}
	)
	err := row.Scan(
		&rc.TokenID, &rc.Code, &rc.IsUsed, &rc.UsedAt, &rc.IssuedAt,
		&rc.Event.ID, &rc.Event.Name, &rc.Event.FoodIncluded, &rc.Event.Fee, &rc.Event.StartsAt, &rc.Event.EndsAt,
		&rc.Student.ID, &rc.Student.Name, &rc.Student.Email, &rc.Student.Phone, &rc.Student.BatchYear,
		&tx.id, &tx.orderID, &tx.paymentID, &tx.amount, &tx.currency, &tx.status, &tx.method, &tx.at,
		&co.id, &co.amount, &co.currency, &co.status, &co.method, &co.at,
	)
	if err != nil {
		return Receipt{}, store.NotFound(err)
	}
	switch {
	case tx.id.Valid:
		rc.Payment = &ReceiptPayment{
			Kind: PaymentOnline, ID: tx.id.String, OrderID: tx.orderID.String, PaymentID: tx.paymentID.String,
			Amount: tx.amount.Int64, Currency: tx.currency.String, Status: tx.status.String,
			Method: tx.method.String, At: tx.at.Time,
		}
	case co.id.Valid:
		rc.Payment = &ReceiptPayment{
			Kind: PaymentOffline, ID: co.id.String, Amount: co.amount.Int64, Currency: co.currency.String,
			Status: co.status.String, Method: co.method.String, At: co.at.Time,
		}
	}
	return rc, nil
}
