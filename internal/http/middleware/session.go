package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/httpauth/internal/domain"
	"github.com/smallbiznis/httpauth/internal/session"
)

const sessionClaimsKey = "sessionClaims"

// Session validates the session cookie and attaches its claims.
type Session struct {
	Manager *session.Manager
}

func NewSession(manager *session.Manager) *Session {
	return &Session{Manager: manager}
}

// RequireSession aborts with 401 unless the request carries a valid session.
func (m *Session) RequireSession(c *gin.Context) {
	token, err := c.Cookie(session.CookieName)
	if err != nil || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login_required", "error_description": "Session cookie required."})
		return
	}
	claims, err := m.Manager.Validate(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_session", "error_description": "Session is invalid or expired."})
		return
	}
	c.Set(sessionClaimsKey, claims)
	c.Next()
}

// RequireAdmin must run after RequireSession.
func (m *Session) RequireAdmin(c *gin.Context) {
	claims, ok := GetSession(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login_required", "error_description": "Session cookie required."})
		return
	}
	if claims.Role != domain.RoleAdministrator {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "error_description": "Administrator role required."})
		return
	}
	c.Next()
}

// GetSession exposes the session claims to handlers.
func GetSession(c *gin.Context) (*session.Claims, bool) {
	value, ok := c.Get(sessionClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*session.Claims)
	return claims, ok
}
