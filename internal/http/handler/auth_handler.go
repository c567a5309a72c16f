package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/http/middleware"
	"github.com/smallbiznis/httpauth/internal/identity"
	"github.com/smallbiznis/httpauth/internal/policy"
	"github.com/smallbiznis/httpauth/internal/service"
	"github.com/smallbiznis/httpauth/internal/session"
)

// CookieConfig controls the session cookie attributes.
type CookieConfig struct {
	Secure bool
	Domain string
}

// AuthHandler serves the login, logout and password endpoints.
type AuthHandler struct {
	Auth    *service.AuthService
	Headers identity.HeaderConfig
	Cookie  CookieConfig
	Logger  *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, headers identity.HeaderConfig, cookie CookieConfig, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &AuthHandler{Auth: auth, Headers: headers, Cookie: cookie, Logger: logger}
}

// Login authenticates the identity asserted by the fronting proxy.
func (h *AuthHandler) Login(c *gin.Context) {
	rc := identity.FromRequest(c.Request, h.Headers)
	result, err := h.Auth.Login(c.Request.Context(), rc, c.Query("redirect_to"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	switch result.Decision.Kind {
	case policy.KindAccepted:
		h.setSession(c, result.Token)
		c.Redirect(http.StatusFound, result.Redirect)
	case policy.KindFallThrough:
		c.Redirect(http.StatusFound, result.Redirect)
	default:
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             string(result.Decision.Reason),
			"error_description": rejectionDescription(result.Decision.Reason),
		})
	}
}

// LoginOptions describes the login page.
func (h *AuthHandler) LoginOptions(c *gin.Context) {
	view, err := h.Auth.LoginOptions(c.Request.Context(), c.Query("redirect_to"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// PasswordForm returns the descriptor for the native password form.
func (h *AuthHandler) PasswordForm(c *gin.Context) {
	view, err := h.Auth.PasswordForm(c.Request.Context(), c.Query("redirect_to"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// PasswordLogin is the native fallback form.
func (h *AuthHandler) PasswordLogin(c *gin.Context) {
	var req struct {
		Login      string `json:"login" form:"log"`
		Password   string `json:"password" form:"pwd"`
		RedirectTo string `json:"redirect_to" form:"redirect_to"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Login and password are required."})
		return
	}

	account, token, err := h.Auth.PasswordLogin(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.setSession(c, token)
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// PasswordReset accepts a reset request when resets are allowed.
func (h *AuthHandler) PasswordReset(c *gin.Context) {
	var req struct {
		Login string `json:"login" form:"user_login"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if err := h.Auth.PasswordReset(c.Request.Context(), req.Login); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// ChangePassword updates the password of the session account.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login_required", "error_description": "Session cookie required."})
		return
	}

	var req struct {
		Pass1 string `json:"pass1" form:"pass1"`
		Pass2 string `json:"pass2" form:"pass2"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	if err := h.Auth.ChangePassword(c.Request.Context(), claims.AccountID, req.Pass1, req.Pass2); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Logout clears the session and sends the browser to the logout URI.
func (h *AuthHandler) Logout(c *gin.Context) {
	uri, err := h.Auth.LogoutURI(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.clearSession(c)
	c.Redirect(http.StatusFound, uri)
}

// Me returns the session account.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login_required", "error_description": "Session cookie required."})
		return
	}
	account, err := h.Auth.Account(c.Request.Context(), claims.AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "method": claims.Method})
}

func (h *AuthHandler) setSession(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(session.CookieName, token, int(h.Auth.SessionTTL().Seconds()), "/", h.Cookie.Domain, h.Cookie.Secure, true)
}

func (h *AuthHandler) clearSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(session.CookieName, "", -1, "/", h.Cookie.Domain, h.Cookie.Secure, true)
}

func (h *AuthHandler) respondError(c *gin.Context, err error) {
	respondError(c, h.Logger, err)
}

func rejectionDescription(reason policy.Reason) string {
	if reason == policy.ReasonUnknownIdentity {
		return "The asserted identity has no account."
	}
	return "No identity was asserted for this request."
}
