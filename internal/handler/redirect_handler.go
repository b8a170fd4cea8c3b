package handler

import (
	"net/http"

	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/SergeiKhy/shrinkr/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Заголовки, в которых CDN/прокси передают страну клиента
var countryHeaders = []string{"CF-IPCountry", "X-Country-Code"}

type RedirectHandler struct {
	redirector service.Redirector
	logger     *zap.Logger
}

func NewRedirectHandler(redirector service.Redirector, logger *zap.Logger) *RedirectHandler {
	return &RedirectHandler{redirector: redirector, logger: logger}
}

// Redirect godoc
// @Summary Redirect to original URL
// @Description Redirect to the original URL by short code. Unknown and inactive codes both return 404
// @Tags links
// @Param code path string true "Short code"
// @Success 302
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /{code} [get]
func (h *RedirectHandler) Redirect(c *gin.Context) {
	code := c.Param("code")

	visit := &models.Visit{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
	}
	for _, header := range countryHeaders {
		if hint := c.GetHeader(header); hint != "" {
			visit.CountryHint = hint
			break
		}
	}

	result, err := h.redirector.Redirect(c.Request.Context(), code, visit)
	if err != nil {
		if result != nil && result.Outcome == service.OutcomeUnavailable {
			h.logger.Error("Redirect lookup unavailable", zap.String("code", code), zap.Error(err))
		} else {
			h.logger.Debug("Redirect miss", zap.String("code", code), zap.Error(err))
		}
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "private, no-cache")
	c.Redirect(http.StatusFound, result.Target)
}
