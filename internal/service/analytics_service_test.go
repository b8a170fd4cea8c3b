package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/SergeiKhy/shrinkr/internal/service"
	"github.com/SergeiKhy/shrinkr/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var analyticsNow = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

type analyticsFixture struct {
	analytics service.AnalyticsService
	links     service.LinkService
	linkRepo  *mocks.MockLinkRepository
	clickRepo *mocks.MockClickRepository
	seq       int
}

func setupAnalytics(t *testing.T) *analyticsFixture {
	t.Helper()

	links, linkRepo := setupUncachedService(testConfig())
	clickRepo := mocks.NewMockClickRepository(linkRepo)
	analytics := service.NewAnalyticsServiceWithClock(linkRepo, clickRepo, zap.NewNop(), func() time.Time {
		return analyticsNow
	})
	return &analyticsFixture{analytics: analytics, links: links, linkRepo: linkRepo, clickRepo: clickRepo}
}

func (f *analyticsFixture) createLink(t *testing.T, owner string) *models.Link {
	t.Helper()
	link, err := f.links.CreateLink(context.Background(), &models.CreateLinkInput{
		OriginalURL: "https://example.com/" + owner,
		OwnerID:     strPtr(owner),
	})
	require.NoError(t, err)
	return link
}

func (f *analyticsFixture) click(link *models.Link, at time.Time, country, device string) {
	f.seq++
	event := models.ClickEvent{
		ID:        fmt.Sprintf("click-%d", f.seq),
		LinkID:    link.ID,
		ClickedAt: at,
	}
	if country != "" {
		event.Country = strPtr(country)
	}
	if device != "" {
		event.Device = strPtr(device)
		event.Browser = strPtr("Chrome")
	}
	f.clickRepo.Add(event)
}

func daysAgo(n int) time.Time {
	return analyticsNow.AddDate(0, 0, -n)
}

func TestAnalytics_ClampDays(t *testing.T) {
	assert.Equal(t, 30, service.ClampDays(0))
	assert.Equal(t, 1, service.ClampDays(-5))
	assert.Equal(t, 7, service.ClampDays(7))
	assert.Equal(t, 365, service.ClampDays(1000))
}

func TestAnalytics_Summary(t *testing.T) {
	f := setupAnalytics(t)
	ctx := context.Background()

	a1 := f.createLink(t, "alice")
	a2 := f.createLink(t, "alice")
	b := f.createLink(t, "bob")

	f.click(a1, daysAgo(40), "US", "desktop")
	f.click(a1, daysAgo(2), "US", "desktop")
	f.click(a2, daysAgo(1), "DE", "mobile")
	f.click(b, daysAgo(1), "FR", "mobile")

	summary, err := f.analytics.Summary(ctx, "alice", daysAgo(7))
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalLinks)
	assert.Equal(t, int64(3), summary.TotalClicks)
	assert.Equal(t, int64(2), summary.ClicksSince)

	// Удалённые ссылки выпадают из аналитики вместе с кликами
	require.NoError(t, f.links.DeleteLink(ctx, a2.ID, "alice"))
	summary, err = f.analytics.Summary(ctx, "alice", daysAgo(7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalLinks)
	assert.Equal(t, int64(2), summary.TotalClicks)
	assert.Equal(t, int64(1), summary.ClicksSince)
}

func TestAnalytics_TopCountries(t *testing.T) {
	f := setupAnalytics(t)
	link := f.createLink(t, "alice")

	for i := 0; i < 3; i++ {
		f.click(link, daysAgo(1), "US", "desktop")
	}
	for i := 0; i < 2; i++ {
		f.click(link, daysAgo(1), "DE", "mobile")
	}
	f.click(link, daysAgo(1), "FR", "mobile")
	f.click(link, daysAgo(1), "", "")
	f.click(link, daysAgo(60), "JP", "desktop")

	top, err := f.analytics.TopCountries(context.Background(), "alice", daysAgo(30), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, models.GroupCount{Key: "US", Count: 3}, top[0])
	assert.Equal(t, models.GroupCount{Key: "DE", Count: 2}, top[1])

	devices, err := f.analytics.TopDevices(context.Background(), "alice", daysAgo(30), 5)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, int64(3), devices[0].Count)
	assert.Equal(t, int64(3), devices[1].Count)
	assert.ElementsMatch(t, []string{"desktop", "mobile"}, []string{devices[0].Key, devices[1].Key})

	none, err := f.analytics.TopBrowsers(context.Background(), "alice", daysAgo(30), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAnalytics_ClicksByDay(t *testing.T) {
	f := setupAnalytics(t)
	link := f.createLink(t, "alice")

	f.click(link, analyticsNow.Add(-time.Hour), "US", "desktop")
	f.click(link, analyticsNow.Add(-2*time.Hour), "US", "desktop")
	f.click(link, time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC), "US", "desktop")
	f.click(link, time.Date(2025, 3, 7, 23, 59, 59, 0, time.UTC), "US", "desktop")
	// Вне окна
	f.click(link, time.Date(2025, 3, 3, 23, 59, 59, 0, time.UTC), "US", "desktop")

	series, err := f.analytics.ClicksByDay(context.Background(), "alice", 7)
	require.NoError(t, err)

	expected := []models.DailyClickStats{
		{Date: "2025-03-04", Clicks: 0},
		{Date: "2025-03-05", Clicks: 0},
		{Date: "2025-03-06", Clicks: 0},
		{Date: "2025-03-07", Clicks: 1},
		{Date: "2025-03-08", Clicks: 1},
		{Date: "2025-03-09", Clicks: 0},
		{Date: "2025-03-10", Clicks: 2},
	}
	assert.Equal(t, expected, series)
}

func TestAnalytics_RecentClicks(t *testing.T) {
	f := setupAnalytics(t)
	link := f.createLink(t, "alice")
	other := f.createLink(t, "bob")

	for i := 1; i <= 12; i++ {
		f.click(link, analyticsNow.Add(-time.Duration(i)*time.Minute), "US", "desktop")
	}
	f.click(other, analyticsNow, "US", "desktop")

	recent, err := f.analytics.RecentClicks(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, link.ShortCode, recent[0].ShortCode)
	assert.Equal(t, link.OriginalURL, recent[0].OriginalURL)
	assert.True(t, recent[0].ClickedAt.After(recent[9].ClickedAt))
}

func TestAnalytics_Dashboard(t *testing.T) {
	f := setupAnalytics(t)
	link := f.createLink(t, "alice")

	f.click(link, daysAgo(0), "US", "desktop")
	f.click(link, daysAgo(3), "DE", "mobile")
	f.click(link, daysAgo(20), "FR", "tablet")

	dashboard, err := f.analytics.Dashboard(context.Background(), "alice", 7)
	require.NoError(t, err)

	assert.Equal(t, int64(1), dashboard.TotalLinks)
	assert.Equal(t, int64(3), dashboard.TotalClicks)
	assert.Equal(t, int64(2), dashboard.ClicksSince)
	assert.Len(t, dashboard.ClicksByDay, 7)
	assert.Len(t, dashboard.TopCountries, 2)
	assert.Len(t, dashboard.TopDevices, 2)
	require.Len(t, dashboard.TopBrowsers, 1)
	assert.Equal(t, int64(2), dashboard.TopBrowsers[0].Count)
	assert.Len(t, dashboard.RecentClicks, 3)
}

func TestAnalytics_EmptyOwner(t *testing.T) {
	f := setupAnalytics(t)

	dashboard, err := f.analytics.Dashboard(context.Background(), "nobody", 30)
	require.NoError(t, err)
	assert.Zero(t, dashboard.TotalClicks)
	assert.NotNil(t, dashboard.TopCountries)
	assert.NotNil(t, dashboard.RecentClicks)
	assert.Len(t, dashboard.ClicksByDay, 30)
}

func TestAnalytics_LinkStats(t *testing.T) {
	f := setupAnalytics(t)
	busy := f.createLink(t, "alice")
	quiet := f.createLink(t, "alice")

	for i := 0; i < 7; i++ {
		f.click(busy, analyticsNow.Add(-time.Duration(i)*time.Minute), "US", "desktop")
	}

	stats, err := f.analytics.LinkStats(context.Background(), []models.Link{*busy, *quiet})
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, busy.ID, stats[0].ID)
	assert.Equal(t, int64(7), stats[0].ClickCount)
	assert.Len(t, stats[0].RecentClicks, service.RecentClicksPerURL)
	assert.True(t, stats[0].RecentClicks[0].ClickedAt.Equal(analyticsNow))

	assert.Zero(t, stats[1].ClickCount)
	assert.NotNil(t, stats[1].RecentClicks)
	assert.Empty(t, stats[1].RecentClicks)
}
