package handler

import (
	"time"

	"github.com/SergeiKhy/shrinkr/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	AllowedOrigins []string
	Identity       middleware.IdentityConfig
	GeneralLimiter *middleware.RateLimiter // nil отключает общий лимит
	CreateLimiter  *middleware.RateLimiter // nil отключает лимит на создание
}

type Handlers struct {
	Links     *LinkHandler
	Redirects *RedirectHandler
	Analytics *AnalyticsHandler
	Health    *HealthHandler
}

func NewRouter(h Handlers, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-User-ID"},
			ExposeHeaders:    []string{"Content-Length", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Служебные эндпоинты без лимитов
	router.GET("/health", h.Health.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Rate limiting для всех остальных запросов
	if cfg.GeneralLimiter != nil {
		router.Use(cfg.GeneralLimiter.Middleware())
	}
	router.Use(middleware.Identity(cfg.Identity))

	create := []gin.HandlerFunc{}
	if cfg.CreateLimiter != nil {
		create = append(create, cfg.CreateLimiter.MiddlewareWithKey(ownerKey))
	}
	create = append(create, h.Links.CreateShortURL)
	router.POST("/create-short-url", create...)

	api := router.Group("/api", middleware.RequireOwner())
	{
		api.GET("/urls", h.Links.ListURLs)
		api.PATCH("/urls/:id", h.Links.UpdateURL)
		api.DELETE("/urls/:id", h.Links.DeleteURL)
		api.POST("/urls/:id/deactivate", h.Links.DeactivateURL)
		api.GET("/urls/:id/qr", h.Links.QRCode)
		api.GET("/analytics", h.Analytics.GetAnalytics)
	}

	// Редирект (корневой путь)
	router.GET("/:code", h.Redirects.Redirect)

	return router
}

// ownerKey лимитирует создание по владельцу, анонимов по IP
func ownerKey(c *gin.Context) string {
	if owner, ok := middleware.OwnerFromContext(c); ok {
		return "owner:" + owner
	}
	return ""
}
