package handler

import (
	"errors"
	"net/http"

	"github.com/SergeiKhy/shrinkr/internal/service"
	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Порядок важен: первая подходящая ошибка определяет ответ
var errorMappings = []errorMapping{
	{service.ErrInvalidURL, http.StatusBadRequest, "invalid_url", "Invalid URL format: expected an absolute http(s) URL"},
	{service.ErrInvalidCode, http.StatusBadRequest, "invalid_code", "Custom code must be 3-32 characters of letters, digits, '-' or '_' and not a reserved word"},
	{service.ErrSpamDomain, http.StatusBadRequest, "spam_domain", "Domain is blacklisted"},
	{service.ErrCodeConflict, http.StatusConflict, "code_conflict", "Short code is already taken"},
	{service.ErrCodeSpaceExhausted, http.StatusServiceUnavailable, "code_space_exhausted", "Could not allocate a short code, try again"},
	{service.ErrNotFound, http.StatusNotFound, "not_found", "Link not found"},
	{service.ErrInactive, http.StatusNotFound, "not_found", "Link not found"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden", "You do not own this link"},
	{service.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable", "Service temporarily unavailable"},
}

// writeError отвечает статусом и кодом, соответствующими ошибке сервиса
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.status == http.StatusServiceUnavailable {
				c.Header("Retry-After", "1")
			}
			c.AbortWithStatusJSON(m.status, ErrorResponse{Error: m.code, Message: m.message})
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "Internal server error",
	})
}

func badRequest(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: code, Message: message})
}
