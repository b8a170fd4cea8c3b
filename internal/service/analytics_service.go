package service

import (
	"context"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/SergeiKhy/shrinkr/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Параметры дашборда
const (
	DefaultDays        = 30
	MaxDays            = 365
	DashboardTopLimit  = 5
	DashboardRecent    = 10
	RecentClicksPerURL = 5
	dayLayout          = "2006-01-02"
)

// AnalyticsService агрегаты по кликам владельца; только чтение
type AnalyticsService interface {
	Summary(ctx context.Context, ownerID string, since time.Time) (*models.Summary, error)
	TopCountries(ctx context.Context, ownerID string, since time.Time, limit int) ([]models.GroupCount, error)
	TopDevices(ctx context.Context, ownerID string, since time.Time, limit int) ([]models.GroupCount, error)
	TopBrowsers(ctx context.Context, ownerID string, since time.Time, limit int) ([]models.GroupCount, error)
	ClicksByDay(ctx context.Context, ownerID string, days int) ([]models.DailyClickStats, error)
	RecentClicks(ctx context.Context, ownerID string, limit int) ([]models.RecentClick, error)
	Dashboard(ctx context.Context, ownerID string, days int) (*models.Dashboard, error)
	LinkStats(ctx context.Context, links []models.Link) ([]models.LinkWithStats, error)
}

type analyticsService struct {
	linkRepo  repository.LinkRepository
	clickRepo repository.ClickRepository
	logger    *zap.Logger
	now       func() time.Time
}

func NewAnalyticsService(
	linkRepo repository.LinkRepository,
	clickRepo repository.ClickRepository,
	logger *zap.Logger,
) AnalyticsService {
	return NewAnalyticsServiceWithClock(linkRepo, clickRepo, logger, time.Now)
}

// NewAnalyticsServiceWithClock позволяет зафиксировать "сейчас" в тестах
func NewAnalyticsServiceWithClock(
	linkRepo repository.LinkRepository,
	clickRepo repository.ClickRepository,
	logger *zap.Logger,
	now func() time.Time,
) AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &analyticsService{linkRepo: linkRepo, clickRepo: clickRepo, logger: logger, now: now}
}

// ClampDays приводит окно к диапазону [1, MaxDays]; 0 означает значение по умолчанию
func ClampDays(days int) int {
	switch {
	case days == 0:
		return DefaultDays
	case days < 1:
		return 1
	case days > MaxDays:
		return MaxDays
	default:
		return days
	}
}

// windowStart начало окна из days календарных дней UTC, включая текущий
func windowStart(now time.Time, days int) time.Time {
	today := now.UTC().Truncate(24 * time.Hour)
	return today.AddDate(0, 0, -(days - 1))
}

func (s *analyticsService) Summary(ctx context.Context, ownerID string, since time.Time) (*models.Summary, error) {
	totalLinks, err := s.linkRepo.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	totalClicks, err := s.clickRepo.CountByOwner(ctx, ownerID, nil)
	if err != nil {
		return nil, err
	}
	clicksSince, err := s.clickRepo.CountByOwner(ctx, ownerID, &since)
	if err != nil {
		return nil, err
	}

	return &models.Summary{
		TotalLinks:  totalLinks,
		TotalClicks: totalClicks,
		ClicksSince: clicksSince,
		Since:       since.UTC(),
	}, nil
}

func (s *analyticsService) TopCountries(ctx context.Context, ownerID string, since time.Time, limit int) ([]models.GroupCount, error) {
	return s.top(ctx, ownerID, models.DimensionCountry, since, limit)
}

func (s *analyticsService) TopDevices(ctx context.Context, ownerID string, since time.Time, limit int) ([]models.GroupCount, error) {
	return s.top(ctx, ownerID, models.DimensionDevice, since, limit)
}

func (s *analyticsService) TopBrowsers(ctx context.Context, ownerID string, since time.Time, limit int) ([]models.GroupCount, error) {
	return s.top(ctx, ownerID, models.DimensionBrowser, since, limit)
}

func (s *analyticsService) top(ctx context.Context, ownerID string, dim models.Dimension, since time.Time, limit int) ([]models.GroupCount, error) {
	if limit <= 0 {
		return []models.GroupCount{}, nil
	}
	groups, err := s.clickRepo.TopByOwner(ctx, ownerID, dim, since, limit)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []models.GroupCount{}
	}
	return groups, nil
}

// ClicksByDay плотный ряд за days дней UTC, старые сначала, пустые дни с нулём
func (s *analyticsService) ClicksByDay(ctx context.Context, ownerID string, days int) ([]models.DailyClickStats, error) {
	days = ClampDays(days)
	start := windowStart(s.now(), days)

	rows, err := s.clickRepo.DailyByOwner(ctx, ownerID, start)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Date] += row.Clicks
	}

	series := make([]models.DailyClickStats, 0, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format(dayLayout)
		series = append(series, models.DailyClickStats{Date: date, Clicks: counts[date]})
	}
	return series, nil
}

func (s *analyticsService) RecentClicks(ctx context.Context, ownerID string, limit int) ([]models.RecentClick, error) {
	if limit <= 0 {
		return []models.RecentClick{}, nil
	}
	clicks, err := s.clickRepo.RecentByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	if clicks == nil {
		clicks = []models.RecentClick{}
	}
	return clicks, nil
}

// Dashboard собирает все агрегаты для /api/analytics; запросы идут параллельно
func (s *analyticsService) Dashboard(ctx context.Context, ownerID string, days int) (*models.Dashboard, error) {
	days = ClampDays(days)
	since := windowStart(s.now(), days)

	var (
		dashboard models.Dashboard
		summary   *models.Summary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		summary, err = s.Summary(gctx, ownerID, since)
		return err
	})
	g.Go(func() (err error) {
		dashboard.TopCountries, err = s.TopCountries(gctx, ownerID, since, DashboardTopLimit)
		return err
	})
	g.Go(func() (err error) {
		dashboard.TopDevices, err = s.TopDevices(gctx, ownerID, since, DashboardTopLimit)
		return err
	})
	g.Go(func() (err error) {
		dashboard.TopBrowsers, err = s.TopBrowsers(gctx, ownerID, since, DashboardTopLimit)
		return err
	})
	g.Go(func() (err error) {
		dashboard.ClicksByDay, err = s.ClicksByDay(gctx, ownerID, days)
		return err
	})
	g.Go(func() (err error) {
		dashboard.RecentClicks, err = s.RecentClicks(gctx, ownerID, DashboardRecent)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to build dashboard", zap.String("owner", ownerID), zap.Error(err))
		return nil, err
	}

	dashboard.Summary = *summary
	return &dashboard, nil
}

// LinkStats добавляет к ссылкам счётчик кликов и последние клики
func (s *analyticsService) LinkStats(ctx context.Context, links []models.Link) ([]models.LinkWithStats, error) {
	out := make([]models.LinkWithStats, 0, len(links))
	if len(links) == 0 {
		return out, nil
	}

	ids := make([]string, len(links))
	for i := range links {
		ids[i] = links[i].ID
	}

	counts, err := s.clickRepo.CountByLinks(ctx, ids)
	if err != nil {
		return nil, err
	}
	recent, err := s.clickRepo.RecentByLinks(ctx, ids, RecentClicksPerURL)
	if err != nil {
		return nil, err
	}

	for _, link := range links {
		clicks := recent[link.ID]
		if clicks == nil {
			clicks = []models.ClickEvent{}
		}
		out = append(out, models.LinkWithStats{
			Link:         link,
			ClickCount:   counts[link.ID],
			RecentClicks: clicks,
		})
	}
	return out, nil
}
