package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/middleware"
	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/SergeiKhy/shrinkr/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// Параметры пагинации и QR
const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	defaultQRSize    = 256
	minQRSize        = 128
	maxQRSize        = 1024
)

type LinkHandler struct {
	links     service.LinkService
	analytics service.AnalyticsService
	baseURL   string
	logger    *zap.Logger
}

func NewLinkHandler(links service.LinkService, analytics service.AnalyticsService, baseURL string, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		links:     links,
		analytics: analytics,
		baseURL:   baseURL,
		logger:    logger,
	}
}

type CreateLinkRequest struct {
	LongURL     string  `json:"longUrl" binding:"required"`
	UserID      *string `json:"userId,omitempty"`
	CustomCode  *string `json:"customCode,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateLinkResponse struct {
	ID          string    `json:"id"`
	ShortURL    string    `json:"shortUrl"`
	ShortCode   string    `json:"shortCode"`
	OriginalURL string    `json:"originalUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}

type UpdateLinkRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

type ListLinksResponse struct {
	URLs       []models.LinkWithStats `json:"urls"`
	TotalCount int64                  `json:"totalCount"`
	HasMore    bool                   `json:"hasMore"`
}

func (h *LinkHandler) shortURL(code string) string {
	return h.baseURL + "/" + code
}

// CreateShortURL godoc
// @Summary Create a short link
// @Description Create a new shortened URL, optionally with a custom code
// @Tags links
// @Accept json
// @Produce json
// @Param request body CreateLinkRequest true "Link creation request"
// @Success 201 {object} CreateLinkResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /create-short-url [post]
func (h *LinkHandler) CreateShortURL(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid request body", zap.Error(err))
		badRequest(c, "invalid_url", "Field longUrl is required")
		return
	}

	// Идентичность из middleware важнее userId из тела
	ownerID := req.UserID
	if owner, ok := middleware.OwnerFromContext(c); ok {
		ownerID = &owner
	}

	link, err := h.links.CreateLink(c.Request.Context(), &models.CreateLinkInput{
		OriginalURL: req.LongURL,
		OwnerID:     ownerID,
		Title:       req.Title,
		Description: req.Description,
		CustomCode:  req.CustomCode,
	})
	if err != nil {
		h.logger.Warn("Failed to create link", zap.String("url", req.LongURL), zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateLinkResponse{
		ID:          link.ID,
		ShortURL:    h.shortURL(link.ShortCode),
		ShortCode:   link.ShortCode,
		OriginalURL: link.OriginalURL,
		CreatedAt:   link.CreatedAt,
	})
}

// ListURLs godoc
// @Summary List the caller's links
// @Description Paginated links, newest first, with click counts and recent clicks
// @Tags links
// @Produce json
// @Param limit query int false "Page size" default(10)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} ListLinksResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/urls [get]
func (h *LinkHandler) ListURLs(c *gin.Context) {
	owner, _ := middleware.OwnerFromContext(c)

	limit, ok := queryInt(c, "limit", defaultPageLimit)
	if !ok || limit < 1 {
		badRequest(c, "invalid_limit", "limit must be a positive integer")
		return
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok || offset < 0 {
		badRequest(c, "invalid_offset", "offset must be a non-negative integer")
		return
	}

	page, err := h.links.ListLinks(c.Request.Context(), owner, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list links", zap.String("owner", owner), zap.Error(err))
		writeError(c, err)
		return
	}

	urls, err := h.analytics.LinkStats(c.Request.Context(), page.Links)
	if err != nil {
		h.logger.Error("Failed to load link stats", zap.String("owner", owner), zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListLinksResponse{
		URLs:       urls,
		TotalCount: page.TotalCount,
		HasMore:    int64(offset+len(urls)) < page.TotalCount,
	})
}

// UpdateURL godoc
// @Summary Update link metadata
// @Tags links
// @Accept json
// @Produce json
// @Param id path string true "Link ID"
// @Param request body UpdateLinkRequest true "Fields to change"
// @Success 200 {object} models.Link
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/urls/{id} [patch]
func (h *LinkHandler) UpdateURL(c *gin.Context) {
	owner, _ := middleware.OwnerFromContext(c)

	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}

	link, err := h.links.UpdateLink(c.Request.Context(), c.Param("id"), owner, &models.UpdateLinkInput{
		Title:       req.Title,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

// DeactivateURL godoc
// @Summary Deactivate a link
// @Description The code keeps resolving to 404 until the link is reactivated
// @Tags links
// @Produce json
// @Param id path string true "Link ID"
// @Success 200 {object} models.Link
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/urls/{id}/deactivate [post]
func (h *LinkHandler) DeactivateURL(c *gin.Context) {
	owner, _ := middleware.OwnerFromContext(c)

	link, err := h.links.DeactivateLink(c.Request.Context(), c.Param("id"), owner)
	if err != nil {
		writeError(c, err)
		return
	}

	h.logger.Info("Link deactivated", zap.String("id", link.ID), zap.String("owner", owner))
	c.JSON(http.StatusOK, link)
}

// DeleteURL godoc
// @Summary Delete a link
// @Description The short code is never reissued
// @Tags links
// @Param id path string true "Link ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/urls/{id} [delete]
func (h *LinkHandler) DeleteURL(c *gin.Context) {
	owner, _ := middleware.OwnerFromContext(c)
	id := c.Param("id")

	if err := h.links.DeleteLink(c.Request.Context(), id, owner); err != nil {
		writeError(c, err)
		return
	}

	h.logger.Info("Link deleted", zap.String("id", id), zap.String("owner", owner))
	c.Status(http.StatusNoContent)
}

// QRCode godoc
// @Summary QR code for a short link
// @Tags links
// @Produce png
// @Param id path string true "Link ID"
// @Param size query int false "Image size in pixels" default(256)
// @Success 200 {file} binary
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/urls/{id}/qr [get]
func (h *LinkHandler) QRCode(c *gin.Context) {
	owner, _ := middleware.OwnerFromContext(c)

	size, ok := queryInt(c, "size", defaultQRSize)
	if !ok || size < minQRSize || size > maxQRSize {
		badRequest(c, "invalid_size", "size must be between 128 and 1024")
		return
	}

	link, err := h.links.GetOwnedLink(c.Request.Context(), c.Param("id"), owner)
	if err != nil {
		writeError(c, err)
		return
	}

	png, err := qrcode.Encode(h.shortURL(link.ShortCode), qrcode.Medium, size)
	if err != nil {
		h.logger.Error("Failed to encode QR code", zap.String("id", link.ID), zap.Error(err))
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, "image/png", png)
}

// queryInt читает целый query-параметр; ok=false, если значение не число
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
