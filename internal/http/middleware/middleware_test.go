package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/domain"
	"github.com/smallbiznis/httpauth/internal/session"
)

func newTestManager(t *testing.T) *session.Manager {
	t.Helper()
	manager, err := session.NewManager([]byte(strings.Repeat("k", 32)), "https://site.example", time.Hour)
	require.NoError(t, err)
	return manager
}

func newSessionRouter(t *testing.T, manager *session.Manager) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := NewSession(manager)
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()))
	r.GET("/me", m.RequireSession, func(c *gin.Context) {
		claims, ok := GetSession(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Login)
	})
	r.GET("/admin", m.RequireSession, m.RequireAdmin, func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func requestWithSession(t *testing.T, manager *session.Manager, path string, account domain.Account) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if account.ID != 0 {
		token, err := manager.Issue(account, session.MethodHeader)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	}
	return req
}

func TestRequireSession(t *testing.T) {
	manager := newTestManager(t)
	r := newSessionRouter(t, manager)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, requestWithSession(t, manager, "/me", domain.Account{}))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "garbage"})
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, requestWithSession(t, manager, "/me", domain.Account{ID: 1, Login: "alice"}))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "alice", w.Body.String())
}

func TestRequireAdmin(t *testing.T) {
	manager := newTestManager(t)
	r := newSessionRouter(t, manager)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, requestWithSession(t, manager, "/admin", domain.Account{ID: 1, Login: "alice", Role: "subscriber"}))
	require.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, requestWithSession(t, manager, "/admin", domain.Account{ID: 2, Login: "root", Role: domain.RoleAdministrator}))
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestLoggerKeepsIncomingRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, RequestID(c)) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	r.ServeHTTP(w, req)

	require.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	require.Equal(t, "abc-123", w.Body.String())
}

func TestRateLimiterAttempts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	require.Nil(t, NewRateLimiter(0))

	limiter := NewRateLimiter(6)
	r := gin.New()
	r.POST("/password/reset", limiter.Attempts(FlowPasswordReset), func(c *gin.Context) { c.Status(http.StatusAccepted) })
	r.POST("/login/password", limiter.Attempts(FlowPasswordLogin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/password/reset", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/password/reset", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, retry, 1)

	// another flow has its own bucket
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login/password", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	var disabled *RateLimiter
	r = gin.New()
	r.POST("/x", disabled.Attempts(FlowPasswordReset), disabled.Failures(FlowPasswordLogin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for i := 0; i < 3; i++ {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestRateLimiterFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(6)
	r := gin.New()
	r.POST("/login/password", limiter.Failures(FlowPasswordLogin), func(c *gin.Context) {
		if c.Query("pwd") == "right" {
			c.Status(http.StatusNoContent)
			return
		}
		c.Status(http.StatusUnauthorized)
	})
	post := func(pwd string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login/password?pwd="+pwd, nil))
		return w.Code
	}

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusNoContent, post("right"))
	}
	require.Equal(t, http.StatusUnauthorized, post("wrong"))
	require.Equal(t, http.StatusTooManyRequests, post("right"))
}
