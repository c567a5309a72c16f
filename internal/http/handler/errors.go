package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/domain"
	"github.com/smallbiznis/httpauth/internal/http/middleware"
)

// respondError maps service errors to responses. Fatal errors are logged and
// answered with a generic description.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		verr *domain.ValidationError
		derr *domain.DirectoryError
		perr *domain.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "field": verr.Field, "error_description": verr.Message})
	case errors.Is(err, domain.ErrFallbackDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "fallback_disabled", "error_description": "Password authentication is disabled."})
	case errors.Is(err, domain.ErrPasswordResetDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "reset_disabled", "error_description": "Disabled"})
	case errors.Is(err, domain.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "error_description": "Wrong login or password."})
	case errors.Is(err, domain.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Account not found."})
	case errors.As(err, &derr), errors.As(err, &perr):
		_ = c.Error(err)
		logger.Error("request failed", zap.String("request_id", middleware.RequestID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "The request could not be completed."})
	default:
		_ = c.Error(err)
		logger.Error("unexpected error", zap.String("request_id", middleware.RequestID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "The request could not be completed."})
	}
}
