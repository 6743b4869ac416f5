package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventportal/internal/store"
	"eventportal/internal/validation"
)

// ErrInUse is returned when deleting an event that has registrations.
var ErrInUse = errors.New("event has registrations")

// Event is something students register and pay for. Fee is in whole rupees.
type Event struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	FoodIncluded bool      `json:"food_included"`
	Fee          int64     `json:"fee"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Input creates or replaces an event.
type Input struct {
	Name         string    `json:"name" validate:"required,min=2,max=200"`
	FoodIncluded bool      `json:"food_included"`
	Fee          int64     `json:"fee" validate:"gte=0,lte=1000000"`
	StartsAt     time.Time `json:"starts_at" validate:"required"`
	EndsAt       time.Time `json:"ends_at" validate:"required"`
}

func (in Input) validate() error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if in.EndsAt.Before(in.StartsAt) {
		return validation.Field("ends_at", "must not be before starts_at")
	}
	return nil
}

// Events is the persistence the service needs.
type Events interface {
	Get(ctx context.Context, id string) (Event, error)
	List(ctx context.Context) ([]Event, error)
	Insert(ctx context.Context, e Event) (Event, error)
	Update(ctx context.Context, e Event) (Event, error)
	Delete(ctx context.Context, id string) error
}

// Service manages events.
type Service struct {
	repo Events
}

// NewService creates a service backed by a repository.
func NewService(repo Events) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id string) (Event, error) {
	if id == "" {
		return Event{}, store.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Event, error) {
	return s.repo.List(ctx)
}

// Create validates and stores a new event.
func (s *Service) Create(ctx context.Context, in Input) (Event, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.validate(); err != nil {
		return Event{}, err
	}
	return s.repo.Insert(ctx, Event{
		Name:         in.Name,
		FoodIncluded: in.FoodIncluded,
		Fee:          in.Fee,
		StartsAt:     in.StartsAt.UTC(),
		EndsAt:       in.EndsAt.UTC(),
	})
}

// Update replaces an event's fields.
func (s *Service) Update(ctx context.Context, id string, in Input) (Event, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.validate(); err != nil {
		return Event{}, err
	}
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return Event{}, err
	}
	e.Name, e.FoodIncluded, e.Fee = in.Name, in.FoodIncluded, in.Fee
	e.StartsAt, e.EndsAt = in.StartsAt.UTC(), in.EndsAt.UTC()
	return s.repo.Update(ctx, e)
}

// Delete removes an event without registrations.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Repository persists events in Postgres.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, id string) (Event, error) {
	var e Event
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, food_included, fee, starts_at, ends_at, created_at
		FROM events WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &e.FoodIncluded, &e.Fee, &e.StartsAt, &e.EndsAt, &e.CreatedAt)
	return e, store.NotFound(err)
}

func (r *Repository) List(ctx context.Context) ([]Event, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `
		SELECT id, name, food_included, fee, starts_at, ends_at, created_at
		FROM events ORDER BY starts_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Name, &e.FoodIncluded, &e.Fee, &e.StartsAt, &e.EndsAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) Insert(ctx context.Context, e Event) (Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO events (id, name, food_included, fee, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.Name, e.FoodIncluded, e.Fee, e.StartsAt, e.EndsAt).Scan(&e.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

func (r *Repository) Update(ctx context.Context, e Event) (Event, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE events SET name = $2, food_included = $3, fee = $4, starts_at = $5, ends_at = $6
		WHERE id = $1
	`, e.ID, e.Name, e.FoodIncluded, e.Fee, e.StartsAt, e.EndsAt)
	if err != nil {
		return Event{}, fmt.Errorf("update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Event{}, store.ErrNotFound
	}
	return e, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		if store.IsForeignKeyViolation(err) {
			return ErrInUse
		}
		return fmt.Errorf("delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
