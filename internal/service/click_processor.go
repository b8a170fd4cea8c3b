package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/metrics"
	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/SergeiKhy/shrinkr/internal/repository"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Константы worker pool
const (
	defaultWorkerCount    = 3    // Количество воркеров
	defaultChannelBuffer  = 1000 // Размер буфера канала
	defaultClickAttempts  = 5    // Максимальное количество попыток записи
	defaultInitialBackoff = 100 * time.Millisecond
	defaultAttemptTimeout = 5 * time.Second
	touchTimeout          = time.Second
)

// GeoResolver определяет страну по IP или по подсказке прокси
type GeoResolver interface {
	Country(ip, hint string) string
}

// AgentParser извлекает тип устройства и браузер из User-Agent
type AgentParser interface {
	Parse(userAgent string) (device, browser string)
}

type ClickProcessorConfig struct {
	Workers        int
	BufferSize     int
	MaxAttempts    int
	InitialBackoff time.Duration
	AttemptTimeout time.Duration
}

// ClickProcessor интерфейс для асинхронной записи кликов
type ClickProcessor interface {
	Start()
	Stop()
	RecordClick(ctx context.Context, visit *models.Visit) error
	Stats() ChannelStats
}

// clickProcessor реализация процессора кликов с использованием Worker Pool
type clickProcessor struct {
	clickRepo    repository.ClickRepository
	links        LinkService
	geo          GeoResolver
	agents       AgentParser
	cfg          ClickProcessorConfig
	logger       *zap.Logger
	clickChannel chan *models.Visit // Канал для событий кликов
	wg           sync.WaitGroup     // WaitGroup для ожидания завершения воркеров

	mu       sync.RWMutex
	started  bool
	stopping bool
}

// NewClickProcessor создаёт новый экземпляр процессора кликов; geo и agents могут быть nil
func NewClickProcessor(
	clickRepo repository.ClickRepository,
	links LinkService,
	geo GeoResolver,
	agents AgentParser,
	cfg ClickProcessorConfig,
	logger *zap.Logger,
) ClickProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultChannelBuffer
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultClickAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}

	return &clickProcessor{
		clickRepo:    clickRepo,
		links:        links,
		geo:          geo,
		agents:       agents,
		cfg:          cfg,
		logger:       logger,
		clickChannel: make(chan *models.Visit, cfg.BufferSize),
	}
}

// Start запускает worker pool
func (p *clickProcessor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.logger.Info("Запуск воркеров процессора кликов", zap.Int("count", p.cfg.Workers))

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop перестаёт принимать клики, дописывает очередь и ждёт воркеров
func (p *clickProcessor) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	close(p.clickChannel)
	p.mu.Unlock()

	p.logger.Info("Остановка процессора кликов...", zap.Int("pending", len(p.clickChannel)))
	p.wg.Wait()
	metrics.ClickQueueDepth.Set(0)
	p.logger.Info("Процессор кликов остановлен")
}

// worker обрабатывает события кликов из канала до его закрытия
func (p *clickProcessor) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Воркер кликов запущен", zap.Int("id", id))

	for visit := range p.clickChannel {
		metrics.ClickQueueDepth.Set(float64(len(p.clickChannel)))
		p.processClick(visit)
	}

	p.logger.Debug("Воркер кликов остановлен", zap.Int("id", id))
}

// processClick строит ClickEvent и пишет его с экспоненциальным backoff.
// Контекст воркера не связан с HTTP-запросом: отключение клиента запись не отменяет.
func (p *clickProcessor) processClick(visit *models.Visit) {
	event := p.buildEvent(visit)
	ctx := context.Background()

	backoff := retry.WithMaxRetries(uint64(p.cfg.MaxAttempts-1), retry.NewExponential(p.cfg.InitialBackoff))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()

		if err := p.clickRepo.Create(attemptCtx, event); err != nil {
			p.logger.Debug("Повторная попытка записи клика",
				zap.String("short_code", visit.ShortCode),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		metrics.Clicks.WithLabelValues("failed").Inc()
		p.logger.Error("Не удалось записать клик после всех попыток",
			zap.String("short_code", visit.ShortCode),
			zap.Int("attempts", attempt),
			zap.Error(errors.Join(ErrRecordingFailed, err)),
		)
		return
	}
	metrics.Clicks.WithLabelValues("recorded").Inc()

	if p.links == nil {
		return
	}
	touchCtx, cancel := context.WithTimeout(ctx, touchTimeout)
	defer cancel()
	if err := p.links.RecordClickTouch(touchCtx, event.LinkID, event.ClickedAt); err != nil {
		p.logger.Warn("Не удалось обновить lastClickAt",
			zap.String("link_id", event.LinkID),
			zap.Error(err),
		)
	}
}

func (p *clickProcessor) buildEvent(visit *models.Visit) *models.ClickEvent {
	clickedAt := visit.ClickedAt
	if clickedAt.IsZero() {
		clickedAt = time.Now()
	}

	event := &models.ClickEvent{
		ID:        uuid.NewString(),
		LinkID:    visit.LinkID,
		ClickedAt: clickedAt.UTC(),
		IPAddress: optional(visit.IPAddress),
		UserAgent: optional(visit.UserAgent),
		Referrer:  optional(visit.Referrer),
	}

	if p.geo != nil {
		event.Country = optional(p.geo.Country(visit.IPAddress, visit.CountryHint))
	}
	if p.agents != nil && visit.UserAgent != "" {
		device, browser := p.agents.Parse(visit.UserAgent)
		event.Device = optional(device)
		event.Browser = optional(browser)
	}
	return event
}

// RecordClick отправляет клик в worker pool (неблокирующая операция).
// Переполнение буфера и остановка не считаются ошибкой: клик теряется.
func (p *clickProcessor) RecordClick(ctx context.Context, visit *models.Visit) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopping {
		metrics.Clicks.WithLabelValues("dropped").Inc()
		p.logger.Warn("Процессор кликов остановлен, событие потеряно",
			zap.String("short_code", visit.ShortCode),
		)
		return nil
	}

	select {
	case p.clickChannel <- visit:
		metrics.Clicks.WithLabelValues("queued").Inc()
		metrics.ClickQueueDepth.Set(float64(len(p.clickChannel)))
		return nil
	default:
		// Канал заполнен, логируем предупреждение, но не блокируем запрос
		metrics.Clicks.WithLabelValues("dropped").Inc()
		p.logger.Warn("Буфер канала кликов заполнен, событие потеряно",
			zap.String("short_code", visit.ShortCode),
		)
		return nil
	}
}

// Stats возвращает статистику канала для мониторинга
func (p *clickProcessor) Stats() ChannelStats {
	return ChannelStats{
		BufferSize:  cap(p.clickChannel),
		BufferUsed:  len(p.clickChannel),
		WorkerCount: p.cfg.Workers,
	}
}

// ChannelStats статистика канала worker pool
type ChannelStats struct {
	BufferSize  int `json:"bufferSize"`  // Общая ёмкость канала
	BufferUsed  int `json:"bufferUsed"`  // Текущее использование
	WorkerCount int `json:"workerCount"` // Количество воркеров
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
