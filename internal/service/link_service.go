package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/codegen"
	"github.com/SergeiKhy/shrinkr/internal/metrics"
	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/SergeiKhy/shrinkr/internal/repository"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Константы сервиса
const (
	defaultTTL           = 24 * time.Hour
	defaultMaxAttempts   = 10
	defaultLookupTimeout = 50 * time.Millisecond
	lookupRetryDelay     = 5 * time.Millisecond
	breakerName          = "link-store"
)

type LinkServiceConfig struct {
	MaxAttempts     int           // попытки вставки сгенерированного кода
	CacheTTL        time.Duration // время жизни записи в Redis
	LookupTimeout   time.Duration // бюджет одной попытки чтения на горячем пути
	LookupRetries   int           // повторы чтения при недоступности хранилища
	BreakerFailures uint32        // подряд идущие сбои до размыкания
	BreakerTimeout  time.Duration // пауза перед полуоткрытым состоянием
	BlockedDomains  []string
}

// LinkService интерфейс хранилища ссылок
type LinkService interface {
	CreateLink(ctx context.Context, input *models.CreateLinkInput) (*models.Link, error)
	GetLink(ctx context.Context, code string) (*models.Link, error)
	ResolveLink(ctx context.Context, code string) (*models.Link, error)
	GetOwnedLink(ctx context.Context, id, ownerID string) (*models.Link, error)
	ListLinks(ctx context.Context, ownerID string, limit, offset int) (*models.LinkPage, error)
	UpdateLink(ctx context.Context, id, ownerID string, input *models.UpdateLinkInput) (*models.Link, error)
	DeactivateLink(ctx context.Context, id, ownerID string) (*models.Link, error)
	DeleteLink(ctx context.Context, id, ownerID string) error
	RecordClickTouch(ctx context.Context, linkID string, clickedAt time.Time) error
}

// linkService реализация сервиса ссылок
type linkService struct {
	linkRepo  repository.LinkRepository
	cacheRepo repository.CacheRepository
	generator *codegen.Generator
	breaker   *gobreaker.CircuitBreaker[*models.Link]
	cfg       LinkServiceConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewLinkService создаёт сервис; cacheRepo может быть nil, тогда кэш не используется
func NewLinkService(
	linkRepo repository.LinkRepository,
	cacheRepo repository.CacheRepository,
	generator *codegen.Generator,
	cfg LinkServiceConfig,
	logger *zap.Logger,
) LinkService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultTTL
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if cfg.LookupRetries < 0 {
		cfg.LookupRetries = 0
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 10 * time.Second
	}

	s := &linkService{
		linkRepo:  linkRepo,
		cacheRepo: cacheRepo,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	s.breaker = s.newBreaker()
	metrics.CodeLength.Set(float64(generator.Length()))
	return s
}

func (s *linkService) newBreaker() *gobreaker.CircuitBreaker[*models.Link] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[*models.Link](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.cfg.BreakerFailures
		},
		// Отсутствие ссылки - нормальный ответ хранилища, а не сбой
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, repository.ErrLinkNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("Circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// CreateLink создаёт новую короткую ссылку
func (s *linkService) CreateLink(ctx context.Context, input *models.CreateLinkInput) (*models.Link, error) {
	// Валидация URL
	if err := validateURL(input.OriginalURL); err != nil {
		return nil, err
	}

	// Проверка на спам-домены
	if err := s.checkSpamDomain(input.OriginalURL); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	link := &models.Link{
		ID:          uuid.NewString(),
		OriginalURL: input.OriginalURL,
		OwnerID:     nonEmpty(input.OwnerID),
		Title:       nonEmpty(input.Title),
		Description: nonEmpty(input.Description),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if input.CustomCode != nil && *input.CustomCode != "" {
		if err := s.createWithAlias(ctx, link, *input.CustomCode); err != nil {
			return nil, err
		}
	} else if err := s.createWithGeneratedCode(ctx, link); err != nil {
		return nil, err
	}

	// У нового кода версии нет; если его уже успели изменить, запись отклонится
	s.cacheSet(ctx, link, "")
	return link, nil
}

// createWithAlias: случайность не нужна, уникальность проверяет индекс при вставке
func (s *linkService) createWithAlias(ctx context.Context, link *models.Link, alias string) error {
	if err := s.generator.ValidateAlias(alias); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}

	link.ShortCode = alias
	if err := s.linkRepo.Create(ctx, link); err != nil {
		if errors.Is(err, repository.ErrCodeExists) {
			return ErrCodeConflict
		}
		return err
	}

	metrics.LinksCreated.WithLabelValues("custom").Inc()
	return nil
}

// createWithGeneratedCode тратит один общий бюджет MaxAttempts и на проверку кандидата,
// и на вставку: каждая попытка это один кандидат, одна проверка и не больше одной вставки
func (s *linkService) createWithGeneratedCode(ctx context.Context, link *models.Link) error {
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		code, err := s.generator.GenerateUnique(ctx, 1)
		if errors.Is(err, codegen.ErrCodeSpaceExhausted) {
			// Кандидат уже занят, коллизию учёл генератор
			metrics.CodeCollisions.Inc()
			continue
		}
		if err != nil {
			return err
		}

		link.ShortCode = code
		err = s.linkRepo.Create(ctx, link)
		if err == nil {
			s.generator.ReportSuccess()
			metrics.LinksCreated.WithLabelValues("generated").Inc()
			metrics.CodeLength.Set(float64(s.generator.Length()))
			return nil
		}
		if !errors.Is(err, repository.ErrCodeExists) {
			return err
		}

		// Код заняли между проверкой и вставкой
		s.generator.ReportCollision()
		metrics.CodeCollisions.Inc()
		s.logger.Debug("Short code collision on insert", zap.String("code", code), zap.Int("attempt", attempt+1))
	}

	return ErrCodeSpaceExhausted
}

// GetLink получает ссылку по короткому коду (сначала из кэша, затем из БД)
func (s *linkService) GetLink(ctx context.Context, code string) (*models.Link, error) {
	if link, ok := s.cacheGet(ctx, code); ok {
		return link, nil
	}
	version, fill := s.cacheVersion(ctx, code)

	link, err := s.linkRepo.GetByShortCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if fill {
		s.cacheSet(ctx, link, version)
	}
	return link, nil
}

// ResolveLink чтение для горячего пути: короткий таймаут на попытку, circuit breaker
// и не больше LookupRetries повторов, после чего ErrStorageUnavailable.
func (s *linkService) ResolveLink(ctx context.Context, code string) (*models.Link, error) {
	started := time.Now()
	if link, ok := s.cacheGet(ctx, code); ok {
		metrics.LookupDuration.WithLabelValues("cache").Observe(time.Since(started).Seconds())
		return link, nil
	}
	// Версию берём до чтения из БД, чтобы не вернуть в кэш ссылку, изменённую после чтения
	version, fill := s.cacheVersion(ctx, code)

	var link *models.Link
	backoff := retry.WithMaxRetries(uint64(s.cfg.LookupRetries), retry.NewConstant(lookupRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
		defer cancel()

		found, err := s.breaker.Execute(func() (*models.Link, error) {
			return s.linkRepo.GetByShortCode(attemptCtx, code)
		})
		switch {
		case err == nil:
			link = found
			return nil
		case errors.Is(err, repository.ErrLinkNotFound),
			errors.Is(err, gobreaker.ErrOpenState),
			errors.Is(err, gobreaker.ErrTooManyRequests):
			return err
		default:
			return retry.RetryableError(err)
		}
	})
	metrics.LookupDuration.WithLabelValues("store").Observe(time.Since(started).Seconds())

	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		s.logger.Warn("Link lookup failed", zap.String("code", code), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if fill {
		s.cacheSet(ctx, link, version)
	}
	return link, nil
}

// GetOwnedLink возвращает ссылку, только если она принадлежит ownerID
func (s *linkService) GetOwnedLink(ctx context.Context, id, ownerID string) (*models.Link, error) {
	link, err := s.linkRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !link.OwnedBy(ownerID) {
		return nil, ErrForbidden
	}
	return link, nil
}

// ListLinks страница ссылок владельца, новые сначала
func (s *linkService) ListLinks(ctx context.Context, ownerID string, limit, offset int) (*models.LinkPage, error) {
	if ownerID == "" {
		return &models.LinkPage{Links: []models.Link{}}, nil
	}

	links, total, err := s.linkRepo.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &models.LinkPage{Links: links, TotalCount: total}, nil
}

// UpdateLink меняет только переданные поля; пустые title и description очищаются
func (s *linkService) UpdateLink(ctx context.Context, id, ownerID string, input *models.UpdateLinkInput) (*models.Link, error) {
	link, err := s.GetOwnedLink(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	patch := &models.UpdateLinkInput{
		Title:       trimmed(input.Title),
		Description: trimmed(input.Description),
		IsActive:    input.IsActive,
	}
	updated, err := s.linkRepo.Update(ctx, link.ID, patch, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.cacheInvalidate(ctx, updated.ShortCode)
	return updated, nil
}

// DeactivateLink выключает редирект, не освобождая код
func (s *linkService) DeactivateLink(ctx context.Context, id, ownerID string) (*models.Link, error) {
	inactive := false
	return s.UpdateLink(ctx, id, ownerID, &models.UpdateLinkInput{IsActive: &inactive})
}

// DeleteLink удаляет ссылку из выборок; код остаётся занятым навсегда
func (s *linkService) DeleteLink(ctx context.Context, id, ownerID string) error {
	link, err := s.GetOwnedLink(ctx, id, ownerID)
	if err != nil {
		return err
	}

	if err := s.linkRepo.SoftDelete(ctx, link.ID, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return ErrNotFound
		}
		return err
	}

	s.cacheInvalidate(ctx, link.ShortCode)
	return nil
}

// RecordClickTouch best-effort обновление lastClickAt
func (s *linkService) RecordClickTouch(ctx context.Context, linkID string, clickedAt time.Time) error {
	return s.linkRepo.TouchLastClick(ctx, linkID, clickedAt)
}

func (s *linkService) cacheGet(ctx context.Context, code string) (*models.Link, bool) {
	if s.cacheRepo == nil {
		return nil, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()

	link, err := s.cacheRepo.Get(cacheCtx, code)
	if err != nil {
		if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Debug("Cache read failed", zap.String("code", code), zap.Error(err))
		}
		return nil, false
	}
	return link, true
}

// cacheVersion версия кода до чтения из БД; false, если кэш недоступен и заполнять его нельзя
func (s *linkService) cacheVersion(ctx context.Context, code string) (string, bool) {
	if s.cacheRepo == nil {
		return "", false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()

	version, err := s.cacheRepo.Version(cacheCtx, code)
	if err != nil {
		s.logger.Debug("Cache version read failed", zap.String("code", code), zap.Error(err))
		return "", false
	}
	return version, true
}

// Ошибки кэша не прерывают операцию
func (s *linkService) cacheSet(ctx context.Context, link *models.Link, version string) {
	if s.cacheRepo == nil {
		return
	}
	err := s.cacheRepo.Set(ctx, link, version, s.cfg.CacheTTL)
	switch {
	case errors.Is(err, repository.ErrCacheStale):
		s.logger.Debug("Skipped stale cache fill", zap.String("code", link.ShortCode))
	case err != nil:
		s.logger.Debug("Failed to cache link", zap.String("code", link.ShortCode), zap.Error(err))
	}
}

func (s *linkService) cacheInvalidate(ctx context.Context, code string) {
	if s.cacheRepo == nil {
		return
	}
	if err := s.cacheRepo.Invalidate(ctx, code, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("Failed to invalidate cached link", zap.String("code", code), zap.Error(err))
	}
}

// validateURL: непустой абсолютный URL со схемой http или https
func validateURL(raw string) error {
	if raw == "" || strings.ContainsAny(raw, " \t\r\n") {
		return ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Hostname() == "" {
		return ErrInvalidURL
	}
	return nil
}

// checkSpamDomain проверяет хост и его родительские домены по чёрному списку
func (s *linkService) checkSpamDomain(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range s.cfg.BlockedDomains {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return ErrSpamDomain
		}
	}
	return nil
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// trimmed в отличие от nonEmpty сохраняет пустую строку: для Update она означает очистку поля
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	value := strings.TrimSpace(*s)
	return &value
}
