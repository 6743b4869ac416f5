package registration

import (
	"strings"
	"time"
	"unicode"
)

// Student is a registered participant.
type Student struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	PhotoRef    string     `json:"photo_ref,omitempty"`
	PhotoURL    string     `json:"photo_url,omitempty"`
	BatchYear   int        `json:"batch_year,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// UpsertInput is the public registration form.
type UpsertInput struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone" validate:"required,phone"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	BatchYear   int    `json:"batch_year" validate:"omitempty,gte=1950,lte=2100"`
	PhotoRef    string `json:"photo_ref" validate:"omitempty,max=512"`
}

// PatchInput is an admin edit. Nil fields are left unchanged.
type PatchInput struct {
	Name        *string `json:"name" validate:"omitempty,min=2,max=100"`
	Email       *string `json:"email" validate:"omitempty,email"`
	Phone       *string `json:"phone" validate:"omitempty,phone"`
	DateOfBirth *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	BatchYear   *int    `json:"batch_year" validate:"omitempty,gte=1950,lte=2100"`
	PhotoRef    *string `json:"photo_ref" validate:"omitempty,max=512"`
}

// ListFilter pages through students. Query matches name, email or phone.
type ListFilter struct {
	Query  string
	Limit  int
	Offset int
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone drops spaces, dashes and brackets, keeping a leading +.
func NormalizePhone(s string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

func (in *UpsertInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)
	in.Phone = NormalizePhone(in.Phone)
	in.PhotoRef = strings.TrimSpace(in.PhotoRef)
}

func (in UpsertInput) apply(s *Student) {
	s.Name = in.Name
	s.Email = in.Email
	s.Phone = in.Phone
	if dob := parseDate(in.DateOfBirth); dob != nil {
		s.DateOfBirth = dob
	}
	if in.BatchYear != 0 {
		s.BatchYear = in.BatchYear
	}
	if in.PhotoRef != "" {
		s.PhotoRef = in.PhotoRef
	}
}

func (in PatchInput) apply(s *Student) {
	if in.Name != nil {
		s.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		s.Email = NormalizeEmail(*in.Email)
	}
	if in.Phone != nil {
		s.Phone = NormalizePhone(*in.Phone)
	}
	if in.DateOfBirth != nil {
		s.DateOfBirth = parseDate(*in.DateOfBirth)
	}
	if in.BatchYear != nil {
		s.BatchYear = *in.BatchYear
	}
	if in.PhotoRef != nil {
		s.PhotoRef = strings.TrimSpace(*in.PhotoRef)
	}
}
