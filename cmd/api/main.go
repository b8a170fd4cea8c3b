package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/codegen"
	"github.com/SergeiKhy/shrinkr/internal/config"
	"github.com/SergeiKhy/shrinkr/internal/enrich"
	"github.com/SergeiKhy/shrinkr/internal/handler"
	"github.com/SergeiKhy/shrinkr/internal/middleware"
	"github.com/SergeiKhy/shrinkr/internal/repository"
	"github.com/SergeiKhy/shrinkr/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Подключение к БД (postgres)
	db, err := repository.NewPostgresDB(cfg.DB)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		cancelMigrate()
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	cancelMigrate()
	logger.Info("Migrations applied")

	// Подключение к Redis; без него сервис работает без кэша
	var cacheRepo repository.CacheRepository
	redis, err := repository.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, link cache disabled", zap.Error(err))
	} else {
		defer redis.Close()
		cacheRepo = repository.NewCacheRepository(redis)
		logger.Info("Connected to Redis")
	}

	// Инициализация репозиториев
	linkRepo := repository.NewLinkRepository(db)
	clickRepo := repository.NewClickRepository(db)

	generator := codegen.NewGenerator(codegen.Config{
		Length:             cfg.Shortener.CodeLength,
		MaxLength:          cfg.Shortener.MaxCodeLength,
		CollisionThreshold: cfg.Shortener.CollisionThreshold,
		AliasMinLength:     cfg.Shortener.AliasMinLength,
		AliasMaxLength:     cfg.Shortener.AliasMaxLength,
	}, linkRepo)

	// Инициализация сервисов
	linkService := service.NewLinkService(linkRepo, cacheRepo, generator, service.LinkServiceConfig{
		MaxAttempts:     cfg.Shortener.MaxAttempts,
		CacheTTL:        cfg.Redis.CacheTTL,
		LookupTimeout:   cfg.Redirect.LookupTimeout,
		LookupRetries:   cfg.Redirect.LookupRetries,
		BreakerFailures: cfg.Redirect.BreakerFailures,
		BreakerTimeout:  cfg.Redirect.BreakerTimeout,
		BlockedDomains:  cfg.Shortener.BlockedDomains,
	}, logger)
	analyticsService := service.NewAnalyticsService(linkRepo, clickRepo, logger)

	geo, err := enrich.NewGeoIP(cfg.GeoIP.DBPath, logger)
	if err != nil {
		logger.Fatal("Failed to open GeoIP database", zap.String("path", cfg.GeoIP.DBPath), zap.Error(err))
	}
	defer geo.Close()

	// Инициализация процессора кликов (Worker Pool)
	clickProcessor := service.NewClickProcessor(clickRepo, linkService, geo, enrich.NewAgentParser(), service.ClickProcessorConfig{
		Workers:        cfg.Clicks.Workers,
		BufferSize:     cfg.Clicks.BufferSize,
		MaxAttempts:    cfg.Clicks.MaxAttempts,
		InitialBackoff: cfg.Clicks.InitialBackoff,
		AttemptTimeout: cfg.Clicks.AttemptTimeout,
	}, logger)
	clickProcessor.Start()

	redirector := service.NewRedirector(linkService, clickProcessor, logger)

	// Инициализация middleware
	generalLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Name:              "general",
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
	})
	defer generalLimiter.Stop()
	createLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Name:              "create",
		RequestsPerSecond: cfg.RateLimit.CreatePerSecond,
		BurstSize:         cfg.RateLimit.CreateBurst,
		CleanupInterval:   time.Minute,
	})
	defer createLimiter.Stop()

	if len(cfg.Auth.APIKeys) > 0 {
		logger.Info("API key authentication enabled", zap.Int("keys_count", len(cfg.Auth.APIKeys)))
	}

	pingers := map[string]handler.Pinger{"postgres": db}
	if redis != nil {
		pingers["redis"] = redis
	}

	// Настройка роутера
	router := handler.NewRouter(handler.Handlers{
		Links:     handler.NewLinkHandler(linkService, analyticsService, cfg.App.BaseURL, logger),
		Redirects: handler.NewRedirectHandler(redirector, logger),
		Analytics: handler.NewAnalyticsHandler(analyticsService, logger),
		Health:    handler.NewHealthHandler(pingers, clickProcessor, logger),
	}, handler.RouterConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Identity: middleware.IdentityConfig{
			APIKeys:          cfg.Auth.APIKeys,
			JWTSecret:        cfg.Auth.JWTSecret,
			TrustOwnerHeader: cfg.Auth.TrustOwnerHeader,
		},
		GeneralLimiter: generalLimiter,
		CreateLimiter:  createLimiter,
	}, logger)

	// Запуск сервера
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск в горутине
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Новых кликов больше не будет, дописываем очередь до закрытия пула БД
	clickProcessor.Stop()

	logger.Info("Server exited")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
