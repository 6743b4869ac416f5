package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventportal/internal/validation"
)

func TestIssueAndParse(t *testing.T) {
	issued, err := Issue("user-1", RoleAdmin, "admin@example.com", "portal", "secret", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.ID == "" || issued.Token == "" {
		t.Fatalf("missing token fields: %+v", issued)
	}

	claims, err := Parse(issued.Token, "secret", "portal")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != RoleAdmin || claims.ID != issued.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	good, _ := Issue("user-1", RoleAdmin, "", "portal", "secret", time.Hour)
	expired, _ := Issue("user-1", RoleAdmin, "", "portal", "secret", -time.Minute)

	cases := []struct {
		name, token, key, issuer string
	}{
		{"wrong key", good.Token, "other", "portal"},
		{"wrong issuer", good.Token, "secret", "someone-else"},
		{"expired", expired.Token, "secret", "portal"},
		{"garbage", "not-a-jwt", "secret", "portal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.token, tc.key, tc.issuer); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

type memUsers struct {
	byEmail map[string]User
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) Insert(_ context.Context, u User) (User, error) {
	if existing, ok := m.byEmail[u.Email]; ok {
		return existing, nil
	}
	u.ID = "u-" + u.Email
	m.byEmail[u.Email] = u
	return u, nil
}

type memRevoker struct {
	revoked map[string]time.Time
	err     error
}

func newMemRevoker() *memRevoker { return &memRevoker{revoked: map[string]time.Time{}} }

func (m *memRevoker) Revoke(_ context.Context, id string, until time.Time) error {
	m.revoked[id] = until
	return nil
}

func (m *memRevoker) Revoked(_ context.Context, id string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.revoked[id]
	return ok, nil
}

func TestAccountsSignIn(t *testing.T) {
	users := &memUsers{byEmail: map[string]User{}}
	acc := NewAccounts(users, newMemRevoker(), "secret", "portal", time.Hour)
	ctx := context.Background()

	if _, err := acc.EnsureAdmin(ctx, "Admin", " Admin@Example.com ", "hunter22"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	// second seed is a no-op
	if _, err := acc.EnsureAdmin(ctx, "Admin", "admin@example.com", "changed"); err != nil {
		t.Fatalf("ensure admin again: %v", err)
	}

	issued, u, err := acc.SignIn(ctx, "admin@example.com", "hunter22")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if u.Role != RoleAdmin || issued.Token == "" {
		t.Fatalf("unexpected sign in result: %+v %+v", u, issued)
	}

	if _, _, err := acc.SignIn(ctx, "admin@example.com", "changed"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, _, err := acc.SignIn(ctx, "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestAccountsSignOutRevokes(t *testing.T) {
	rev := newMemRevoker()
	acc := NewAccounts(&memUsers{byEmail: map[string]User{}}, rev, "secret", "portal", time.Hour)
	sess := Session{TokenID: "jti-1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := acc.SignOut(context.Background(), sess); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if ok, _ := rev.Revoked(context.Background(), "jti-1"); !ok {
		t.Fatal("token not revoked")
	}
}

func TestEnsureAdminRequiresCredentials(t *testing.T) {
	acc := NewAccounts(&memUsers{byEmail: map[string]User{}}, nil, "secret", "portal", time.Hour)
	if _, err := acc.EnsureAdmin(context.Background(), "Admin", "", "pw"); err == nil {
		t.Fatal("expected error without email")
	}
}

func TestCreateUser(t *testing.T) {
	users := &memUsers{byEmail: map[string]User{}}
	acc := NewAccounts(users, nil, "secret", "portal", time.Hour)
	ctx := context.Background()

	u, err := acc.CreateUser(ctx, NewUser{Name: "Gate One", Email: " Gate@Example.com", Password: "scanner-pw", Role: RoleScanner})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Role != RoleScanner || u.Email != "gate@example.com" {
		t.Fatalf("unexpected user %+v", u)
	}
	_, got, err := acc.SignIn(ctx, "gate@example.com", "scanner-pw")
	if err != nil || got.Role != RoleScanner {
		t.Fatalf("scanner sign in: %+v %v", got, err)
	}

	if _, err := acc.CreateUser(ctx, NewUser{Name: "Gate Two", Email: "gate@example.com", Password: "another-pw", Role: RoleScanner}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate email err = %v", err)
	}
	var ve *validation.Error
	if _, err := acc.CreateUser(ctx, NewUser{Name: "Root", Email: "root@example.com", Password: "long-enough", Role: "superuser"}); !errors.As(err, &ve) {
		t.Fatalf("unknown role err = %v", err)
	}
	if _, err := acc.CreateUser(ctx, NewUser{Name: "Short", Email: "short@example.com", Password: "pw", Role: RoleAdmin}); !errors.As(err, &ve) {
		t.Fatalf("short password err = %v", err)
	}
}
