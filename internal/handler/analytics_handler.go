package handler

import (
	"net/http"

	"github.com/SergeiKhy/shrinkr/internal/middleware"
	"github.com/SergeiKhy/shrinkr/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AnalyticsHandler struct {
	analytics service.AnalyticsService
	logger    *zap.Logger
}

func NewAnalyticsHandler(analytics service.AnalyticsService, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, logger: logger}
}

// GetAnalytics godoc
// @Summary Click analytics for the caller's links
// @Description Summary, top countries/devices/browsers, daily series and recent clicks
// @Tags analytics
// @Produce json
// @Param days query int false "Window in days (1-365)" default(30)
// @Success 200 {object} models.Dashboard
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/analytics [get]
func (h *AnalyticsHandler) GetAnalytics(c *gin.Context) {
	owner, _ := middleware.OwnerFromContext(c)

	days, ok := queryInt(c, "days", service.DefaultDays)
	if !ok {
		badRequest(c, "invalid_days", "days must be an integer")
		return
	}

	dashboard, err := h.analytics.Dashboard(c.Request.Context(), owner, service.ClampDays(days))
	if err != nil {
		h.logger.Error("Failed to build analytics", zap.String("owner", owner), zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dashboard)
}
