package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eventportal/internal/store"
)

const studentColumns = `id, name, email, phone, date_of_birth, photo_ref, batch_year, created_at, updated_at`

// Repository persists students in Postgres.
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

func scanStudent(row scanner) (Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.Name, &s.Email, &s.Phone, &s.DateOfBirth, &s.PhotoRef, &s.BatchYear, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// Get loads a student by id.
func (r *Repository) Get(ctx context.Context, id string) (Student, error) {
	s, err := scanStudent(r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	return s, store.NotFound(err)
}

// FindByEmail returns the oldest student with email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (Student, error) {
	s, err := scanStudent(r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE email = $1 ORDER BY created_at LIMIT 1`, email))
	return s, store.NotFound(err)
}

// FindByPhone returns the oldest student with phone.
func (r *Repository) FindByPhone(ctx context.Context, phone string) (Student, error) {
	s, err := scanStudent(r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE phone = $1 ORDER BY created_at LIMIT 1`, phone))
	return s, store.NotFound(err)
}

// Insert writes a new student.
func (r *Repository) Insert(ctx context.Context, s Student) (Student, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO students (id, name, email, phone, date_of_birth, photo_ref, batch_year, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.Name, s.Email, s.Phone, s.DateOfBirth, s.PhotoRef, s.BatchYear, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return Student{}, fmt.Errorf("insert student: %w", err)
	}
	return s, nil
}

// Update overwrites the mutable columns of s.
func (r *Repository) Update(ctx context.Context, s Student) (Student, error) {
	s.UpdatedAt = time.Now().UTC()
	res, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE students
		SET name = $2, email = $3, phone = $4, date_of_birth = $5, photo_ref = $6, batch_year = $7, updated_at = $8
		WHERE id = $1
	`, s.ID, s.Name, s.Email, s.Phone, s.DateOfBirth, s.PhotoRef, s.BatchYear, s.UpdatedAt)
	if err != nil {
		return Student{}, fmt.Errorf("update student: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Student{}, store.ErrNotFound
	}
	return s, nil
}

// List returns students newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Student, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	args := []any{f.Limit, f.Offset}
	where := ""
	if f.Query != "" {
		where = `WHERE name ILIKE $3 OR email ILIKE $3 OR phone ILIKE $3`
		args = append(args, "%"+f.Query+"%")
	}
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `
		SELECT `+studentColumns+` FROM students `+where+`
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Count returns the number of students.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.Conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n)
	return n, err
}
