package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Pinger зависимость, доступность которой проверяет /health
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	deps   map[string]Pinger
	clicks service.ClickProcessor
	logger *zap.Logger
}

// NewHealthHandler; nil-зависимости пропускаются
func NewHealthHandler(deps map[string]Pinger, clicks service.ClickProcessor, logger *zap.Logger) *HealthHandler {
	live := make(map[string]Pinger, len(deps))
	for name, dep := range deps {
		if dep != nil {
			live[name] = dep
		}
	}
	return &HealthHandler{deps: live, clicks: clicks, logger: logger}
}

// HealthCheck godoc
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}

	body := gin.H{
		"status": "ok",
		"checks": checks,
		"time":   time.Now().UTC(),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.clicks != nil {
		body["clickQueue"] = h.clicks.Stats()
	}
	c.JSON(status, body)
}
