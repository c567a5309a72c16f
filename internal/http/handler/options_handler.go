package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/http/middleware"
	"github.com/smallbiznis/httpauth/internal/options"
	"github.com/smallbiznis/httpauth/internal/service"
)

// OptionsHandler serves the administrator settings endpoints.
type OptionsHandler struct {
	Settings *service.SettingsService
	Logger   *zap.Logger
}

func NewOptionsHandler(settings *service.SettingsService, logger *zap.Logger) *OptionsHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &OptionsHandler{Settings: settings, Logger: logger}
}

func (h *OptionsHandler) Get(c *gin.Context) {
	view, err := h.Settings.Get(c.Request.Context())
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Update applies submitted fields. Omitted fields keep their stored value and
// schema_version cannot be set by the client.
func (h *OptionsHandler) Update(c *gin.Context) {
	var in options.SettingsInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	actor := ""
	if claims, ok := middleware.GetSession(c); ok {
		actor = claims.Login
	}

	view, err := h.Settings.Update(c.Request.Context(), actor, in)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
