package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/SergeiKhy/shrinkr/internal/service"
	"github.com/SergeiKhy/shrinkr/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubGeo struct{}

func (stubGeo) Country(ip, hint string) string {
	if hint != "" {
		return hint
	}
	if ip == "81.2.69.142" {
		return "GB"
	}
	return ""
}

type stubAgents struct{}

func (stubAgents) Parse(userAgent string) (string, string) {
	if userAgent == "iphone" {
		return "mobile", "Safari"
	}
	return "desktop", "Chrome"
}

type processorFixture struct {
	processor service.ClickProcessor
	linkRepo  *mocks.MockLinkRepository
	clickRepo *mocks.MockClickRepository
	link      *models.Link
}

func setupProcessor(t *testing.T, cfg service.ClickProcessorConfig) *processorFixture {
	t.Helper()

	linkService, linkRepo := setupUncachedService(testConfig())
	link, err := linkService.CreateLink(context.Background(), &models.CreateLinkInput{
		OriginalURL: "https://example.com/tracked",
		OwnerID:     strPtr("alice"),
	})
	require.NoError(t, err)

	clickRepo := mocks.NewMockClickRepository(linkRepo)
	processor := service.NewClickProcessor(clickRepo, linkService, stubGeo{}, stubAgents{}, cfg, zap.NewNop())

	return &processorFixture{processor: processor, linkRepo: linkRepo, clickRepo: clickRepo, link: link}
}

func fastConfig() service.ClickProcessorConfig {
	return service.ClickProcessorConfig{
		Workers:        2,
		BufferSize:     100,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func (f *processorFixture) visit(ua string) *models.Visit {
	return &models.Visit{
		LinkID:    f.link.ID,
		ShortCode: f.link.ShortCode,
		ClickedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		IPAddress: "81.2.69.142",
		UserAgent: ua,
		Referrer:  "https://news.example.org/",
	}
}

func TestClickProcessor_RecordsEnrichedClick(t *testing.T) {
	f := setupProcessor(t, fastConfig())
	f.processor.Start()

	require.NoError(t, f.processor.RecordClick(context.Background(), f.visit("iphone")))
	f.processor.Stop()

	clicks := f.clickRepo.All()
	require.Len(t, clicks, 1)
	click := clicks[0]
	assert.NotEmpty(t, click.ID)
	assert.Equal(t, f.link.ID, click.LinkID)
	require.NotNil(t, click.Country)
	assert.Equal(t, "GB", *click.Country)
	require.NotNil(t, click.Device)
	assert.Equal(t, "mobile", *click.Device)
	require.NotNil(t, click.Browser)
	assert.Equal(t, "Safari", *click.Browser)
	require.NotNil(t, click.Referrer)
	assert.Equal(t, "https://news.example.org/", *click.Referrer)

	stored, ok := f.linkRepo.Stored(f.link.ID)
	require.True(t, ok)
	require.NotNil(t, stored.LastClickAt)
	assert.True(t, stored.LastClickAt.Equal(click.ClickedAt))
}

func TestClickProcessor_RetriesTransientFailure(t *testing.T) {
	f := setupProcessor(t, fastConfig())
	f.clickRepo.FailCreates = 2
	f.clickRepo.CreateErr = errStorageDown
	f.processor.Start()

	require.NoError(t, f.processor.RecordClick(context.Background(), f.visit("chrome")))
	f.processor.Stop()

	assert.Len(t, f.clickRepo.All(), 1)
	assert.Equal(t, 3, f.clickRepo.CreateCalls)
}

// TestClickProcessor_DropsAfterMaxAttempts после исчерпания попыток клик теряется без паники
func TestClickProcessor_DropsAfterMaxAttempts(t *testing.T) {
	f := setupProcessor(t, fastConfig())
	f.clickRepo.FailCreates = -1
	f.clickRepo.CreateErr = errStorageDown
	f.processor.Start()

	require.NoError(t, f.processor.RecordClick(context.Background(), f.visit("chrome")))
	f.processor.Stop()

	assert.Empty(t, f.clickRepo.All())
	assert.Equal(t, 3, f.clickRepo.CreateCalls)

	stored, _ := f.linkRepo.Stored(f.link.ID)
	assert.Nil(t, stored.LastClickAt)
}

func TestClickProcessor_TouchFailureKeepsClick(t *testing.T) {
	f := setupProcessor(t, fastConfig())
	f.linkRepo.TouchErr = errStorageDown
	f.processor.Start()

	require.NoError(t, f.processor.RecordClick(context.Background(), f.visit("chrome")))
	f.processor.Stop()

	assert.Len(t, f.clickRepo.All(), 1)
}

// TestClickProcessor_FullBufferDoesNotBlock при заполненном буфере событие теряется, вызов не блокируется
func TestClickProcessor_FullBufferDoesNotBlock(t *testing.T) {
	cfg := fastConfig()
	cfg.BufferSize = 2
	f := setupProcessor(t, cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			assert.NoError(t, f.processor.RecordClick(context.Background(), f.visit("chrome")))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordClick blocked on a full buffer")
	}

	stats := f.processor.Stats()
	assert.Equal(t, 2, stats.BufferSize)
	assert.Equal(t, 2, stats.BufferUsed)

	f.processor.Start()
	f.processor.Stop()
	assert.Len(t, f.clickRepo.All(), 2)
}

func TestClickProcessor_StopDrainsQueue(t *testing.T) {
	f := setupProcessor(t, fastConfig())

	for i := 0; i < 50; i++ {
		require.NoError(t, f.processor.RecordClick(context.Background(), f.visit("chrome")))
	}
	f.processor.Start()
	f.processor.Stop()

	assert.Len(t, f.clickRepo.All(), 50)

	// После остановки клики не принимаются
	require.NoError(t, f.processor.RecordClick(context.Background(), f.visit("chrome")))
	assert.Len(t, f.clickRepo.All(), 50)

	// Повторный Stop безопасен
	f.processor.Stop()
}

// TestClickProcessor_IgnoresRequestCancellation отмена HTTP-запроса не отменяет запись
func TestClickProcessor_IgnoresRequestCancellation(t *testing.T) {
	f := setupProcessor(t, fastConfig())
	f.processor.Start()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.processor.RecordClick(ctx, f.visit("chrome")))
	cancel()
	f.processor.Stop()

	assert.Len(t, f.clickRepo.All(), 1)
}
