package auth

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const sessionKey = "session"

// Session is the authenticated principal for one request. Handlers read it
// from the gin context and pass it to services explicitly.
type Session struct {
	UserID    string
	Email     string
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

// IsAdmin reports whether the session may use the full admin surface.
func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

func sessionFromClaims(c Claims) Session {
	s := Session{UserID: c.Subject, Email: c.Email, Role: c.Role, TokenID: c.ID}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

// SessionFrom returns the session attached by the middleware.
func SessionFrom(c *gin.Context) (Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return Session{}, false
	}
	s, ok := v.(Session)
	return s, ok
}

// Revoker remembers signed-out token ids until they would expire anyway.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisRevoker stores revoked token ids as expiring Redis keys.
type RedisRevoker struct {
	client *redis.Client
	prefix string
}

// NewRedisRevoker builds a revoker on client.
func NewRedisRevoker(client *redis.Client) *RedisRevoker {
	return &RedisRevoker{client: client, prefix: "portal:revoked:"}
}

// Revoke marks tokenID revoked until the given time.
func (r *RedisRevoker) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+tokenID, 1, ttl).Err()
}

// Revoked reports whether tokenID was signed out.
func (r *RedisRevoker) Revoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
