package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"eventportal/internal/store"
	"eventportal/internal/validation"
)

var (
	// ErrInvalidCredentials hides whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("a user with this email already exists")
)

// User is an admin account.
type User struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone,omitempty"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	PhoneVerifiedAt *time.Time `json:"phone_verified_at,omitempty"`
	Role            string     `json:"role"`
	PasswordHash    string     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
}

// UserStore persists admin accounts.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	Insert(ctx context.Context, u User) (User, error)
}

// UserRepository persists users in Postgres.
type UserRepository struct {
	db *store.DB
}

// NewUserRepository creates a repo.
func NewUserRepository(db *store.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail looks a user up by normalized email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.Conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), email_verified_at, phone_verified_at, role, password_hash, created_at
		FROM users WHERE email = $1
	`, email)
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.EmailVerifiedAt, &u.PhoneVerifiedAt, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

// Insert writes a new user; an existing email is left untouched.
func (r *UserRepository) Insert(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, role, password_hash, email_verified_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO NOTHING
		RETURNING created_at
	`, u.ID, u.Name, u.Email, u.Role, u.PasswordHash, u.EmailVerifiedAt)
	if err := row.Scan(&u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.FindByEmail(ctx, u.Email)
		}
		return User{}, err
	}
	return u, nil
}

// Accounts signs admins in and out.
type Accounts struct {
	users      UserStore
	revoker    Revoker
	signingKey string
	issuer     string
	ttl        time.Duration
}

// NewAccounts wires the account service. revoker may be nil.
func NewAccounts(users UserStore, revoker Revoker, signingKey, issuer string, ttl time.Duration) *Accounts {
	return &Accounts{users: users, revoker: revoker, signingKey: signingKey, issuer: issuer, ttl: ttl}
}

// SignIn checks the password and issues a session token.
func (a *Accounts) SignIn(ctx context.Context, email, password string) (Issued, User, error) {
	u, err := a.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Issued{}, User{}, ErrInvalidCredentials
		}
		return Issued{}, User{}, err
	}
	if err := ComparePassword(u.PasswordHash, password); err != nil {
		return Issued{}, User{}, ErrInvalidCredentials
	}
	issued, err := Issue(u.ID, u.Role, u.Email, a.issuer, a.signingKey, a.ttl)
	if err != nil {
		return Issued{}, User{}, fmt.Errorf("issue session: %w", err)
	}
	return issued, u, nil
}

// SignOut revokes the session's token.
func (a *Accounts) SignOut(ctx context.Context, sess Session) error {
	if a.revoker == nil || sess.TokenID == "" {
		return nil
	}
	return a.revoker.Revoke(ctx, sess.TokenID, sess.ExpiresAt)
}

// EnsureAdmin creates the bootstrap admin when it does not exist yet.
func (a *Accounts) EnsureAdmin(ctx context.Context, name, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return User{}, errors.New("admin email and password required")
	}
	if u, err := a.users.FindByEmail(ctx, email); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	now := time.Now().UTC()
	return a.users.Insert(ctx, User{
		Name:            name,
		Email:           email,
		Role:            RoleAdmin,
		PasswordHash:    hash,
		EmailVerifiedAt: &now,
	})
}

// NewUser is a staff account added by an admin.
type NewUser struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"required,oneof=admin scanner"`
}

// CreateUser adds an admin or a scanner. Scanners can only check tokens in.
func (a *Accounts) CreateUser(ctx context.Context, in NewUser) (User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return User{}, err
	}
	if _, err := a.users.FindByEmail(ctx, in.Email); err == nil {
		return User{}, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	u, err := a.users.Insert(ctx, User{Name: in.Name, Email: in.Email, Role: in.Role, PasswordHash: hash})
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	// Insert hands back the existing row when a concurrent create won.
	if u.PasswordHash != hash {
		return User{}, ErrUserExists
	}
	return u, nil
}

// HashPassword hashes with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

// ComparePassword checks a plain password against a bcrypt hash.
func ComparePassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
