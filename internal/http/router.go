package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/config"
	"github.com/smallbiznis/httpauth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/httpauth/internal/http/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, optionsHandler *handler.OptionsHandler, sessions *httpmiddleware.Session, rateLimiter *httpmiddleware.RateLimiter, logger *zap.Logger) (*gin.Engine, error) {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/login", authHandler.Login)
	r.GET("/login/options", authHandler.LoginOptions)
	r.GET("/login/password", authHandler.PasswordForm)
	r.POST("/login/password", rateLimiter.Failures(httpmiddleware.FlowPasswordLogin), authHandler.PasswordLogin)
	r.POST("/password/reset", rateLimiter.Attempts(httpmiddleware.FlowPasswordReset), authHandler.PasswordReset)
	r.GET("/logout", authHandler.Logout)

	authed := r.Group("/", sessions.RequireSession)
	{
		authed.GET("/me", authHandler.Me)
		authed.PUT("/profile/password", authHandler.ChangePassword)
	}

	admin := r.Group("/admin", sessions.RequireSession, sessions.RequireAdmin)
	{
		admin.GET("/options", optionsHandler.Get)
		admin.PUT("/options", optionsHandler.Update)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return r, nil
}
