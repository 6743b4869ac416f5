package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CookieName carries the session token for browser clients.
const CookieName = "portal_session"

// Authenticator resolves sessions from bearer tokens or the session cookie.
type Authenticator struct {
	signingKey string
	issuer     string
	revoker    Revoker
}

// NewAuthenticator builds an Authenticator. revoker may be nil.
func NewAuthenticator(signingKey, issuer string, revoker Revoker) *Authenticator {
	return &Authenticator{signingKey: signingKey, issuer: issuer, revoker: revoker}
}

// Resolve returns the session for the request, if any. A revocation lookup
// failure is treated as no session.
func (a *Authenticator) Resolve(c *gin.Context) (Session, bool) {
	tokenStr := bearer(c.GetHeader("Authorization"))
	if tokenStr == "" {
		if ck, err := c.Cookie(CookieName); err == nil {
			tokenStr = ck
		}
	}
	if tokenStr == "" {
		return Session{}, false
	}
	claims, err := Parse(tokenStr, a.signingKey, a.issuer)
	if err != nil {
		return Session{}, false
	}
	if a.revoker != nil {
		revoked, err := a.revoker.Revoked(c.Request.Context(), claims.ID)
		if err != nil || revoked {
			return Session{}, false
		}
	}
	return sessionFromClaims(claims), true
}

// RequireSession enforces an authenticated session holding one of roles.
// With no roles any authenticated session passes.
func (a *Authenticator) RequireSession(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := a.Resolve(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "sign in required"})
			return
		}
		if len(roles) > 0 && !hasRole(sess.Role, roles) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

// RoutePolicy redirects page requests: anonymous visitors of adminPrefix go
// to loginPath, signed-in visitors of loginPath go to adminPrefix.
func (a *Authenticator) RoutePolicy(adminPrefix, loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		switch {
		case path == adminPrefix || strings.HasPrefix(path, adminPrefix+"/"):
			sess, ok := a.Resolve(c)
			if !ok {
				c.Redirect(http.StatusFound, loginPath)
				c.Abort()
				return
			}
			c.Set(sessionKey, sess)
		case path == loginPath:
			if _, ok := a.Resolve(c); ok {
				c.Redirect(http.StatusFound, adminPrefix)
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

func bearer(header string) string {
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
