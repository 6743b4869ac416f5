package registration

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"eventportal/internal/store"
	"eventportal/internal/validation"
)

// Students is the persistence the service needs.
type Students interface {
	Get(ctx context.Context, id string) (Student, error)
	FindByEmail(ctx context.Context, email string) (Student, error)
	FindByPhone(ctx context.Context, phone string) (Student, error)
	Insert(ctx context.Context, s Student) (Student, error)
	Update(ctx context.Context, s Student) (Student, error)
	List(ctx context.Context, f ListFilter) ([]Student, error)
	Count(ctx context.Context) (int, error)
}

// PhotoURLs resolves stored photo refs.
type PhotoURLs interface {
	URL(ref string) string
}

// Service registers students.
type Service struct {
	repo   Students
	tx     store.Locker
	photos PhotoURLs
	log    *zap.Logger
}

// NewService wires the registration service. photos may be nil.
func NewService(repo Students, tx store.Locker, photos PhotoURLs, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, tx: tx, photos: photos, log: log}
}

// Upsert finds a student by email, then by phone, and patches it; otherwise
// it inserts a new one. Concurrent submissions for the same email or phone
// are serialized on advisory locks.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (Student, bool, error) {
	in.normalize()
	if err := validation.Struct(in); err != nil {
		return Student{}, false, err
	}

	var (
		out     Student
		created bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.tx.LockKeys(ctx, "student:email:"+in.Email, "student:phone:"+in.Phone); err != nil {
			return err
		}

		existing, err := s.repo.FindByEmail(ctx, in.Email)
		if errors.Is(err, store.ErrNotFound) {
			existing, err = s.repo.FindByPhone(ctx, in.Phone)
			if err == nil && existing.Email != in.Email {
				s.log.Warn("student matched by phone with a different email",
					zap.String("student_id", existing.ID),
					zap.String("stored_email", existing.Email),
					zap.String("submitted_email", in.Email))
			}
		}
		switch {
		case err == nil:
			in.apply(&existing)
			out, err = s.repo.Update(ctx, existing)
			return err
		case errors.Is(err, store.ErrNotFound):
			var st Student
			in.apply(&st)
			out, err = s.repo.Insert(ctx, st)
			created = err == nil
			return err
		default:
			return err
		}
	})
	if err != nil {
		return Student{}, false, fmt.Errorf("upsert student: %w", err)
	}
	s.log.Info("student registered", zap.String("student_id", out.ID), zap.Bool("created", created))
	return s.withPhoto(out), created, nil
}

// Get returns one student.
func (s *Service) Get(ctx context.Context, id string) (Student, error) {
	st, err := s.repo.Get(ctx, id)
	if err != nil {
		return Student{}, err
	}
	return s.withPhoto(st), nil
}

// Patch applies an admin edit.
func (s *Service) Patch(ctx context.Context, id string, in PatchInput) (Student, error) {
	if err := validation.Struct(in); err != nil {
		return Student{}, err
	}
	var out Student
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		st, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		in.apply(&st)
		out, err = s.repo.Update(ctx, st)
		return err
	})
	if err != nil {
		return Student{}, err
	}
	return s.withPhoto(out), nil
}

// List pages through students.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Student, error) {
	list, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i] = s.withPhoto(list[i])
	}
	return list, nil
}

// Count returns the number of registered students.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *Service) withPhoto(st Student) Student {
	if s.photos != nil && st.PhotoRef != "" {
		st.PhotoURL = s.photos.URL(st.PhotoRef)
	}
	return st
}
