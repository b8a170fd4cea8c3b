package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/codegen"
	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/SergeiKhy/shrinkr/internal/repository"
	"github.com/SergeiKhy/shrinkr/internal/service"
	"github.com/SergeiKhy/shrinkr/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errStorageDown = errors.New("connection refused")

func strPtr(s string) *string { return &s }

func testConfig() service.LinkServiceConfig {
	return service.LinkServiceConfig{
		MaxAttempts:     5,
		CacheTTL:        time.Hour,
		LookupTimeout:   50 * time.Millisecond,
		LookupRetries:   1,
		BreakerFailures: 5,
		BreakerTimeout:  time.Minute,
		BlockedDomains:  []string{"malware.com"},
	}
}

// setupTestService создаёт тестовое окружение с моковыми репозиториями
func setupTestService() (service.LinkService, *mocks.MockLinkRepository, *mocks.MockCacheRepository) {
	linkRepo := mocks.NewMockLinkRepository()
	cacheRepo := mocks.NewMockCacheRepository()
	generator := codegen.NewGenerator(codegen.DefaultConfig, linkRepo)
	linkService := service.NewLinkService(linkRepo, cacheRepo, generator, testConfig(), zap.NewNop())
	return linkService, linkRepo, cacheRepo
}

// setupUncachedService без кэша, чтобы каждый resolve шёл в хранилище
func setupUncachedService(cfg service.LinkServiceConfig) (service.LinkService, *mocks.MockLinkRepository) {
	linkRepo := mocks.NewMockLinkRepository()
	generator := codegen.NewGenerator(codegen.DefaultConfig, linkRepo)
	return service.NewLinkService(linkRepo, nil, generator, cfg, zap.NewNop()), linkRepo
}

func TestLinkService_CreateLink_Success(t *testing.T) {
	linkService, _, _ := setupTestService()
	ctx := context.Background()

	input := &models.CreateLinkInput{
		OriginalURL: "https://example.com/a/b/c",
		OwnerID:     strPtr("alice"),
		Title:       strPtr("  Launch  "),
	}
	link, err := linkService.CreateLink(ctx, input)

	require.NoError(t, err)
	assert.Len(t, link.ShortCode, codegen.DefaultConfig.Length)
	assert.Regexp(t, `^[A-Za-z0-9]+$`, link.ShortCode)
	assert.Equal(t, "https://example.com/a/b/c", link.OriginalURL)
	assert.True(t, link.IsActive)
	assert.NotEmpty(t, link.ID)
	assert.False(t, link.CreatedAt.IsZero())
	require.NotNil(t, link.Title)
	assert.Equal(t, "Launch", *link.Title)

	fetched, err := linkService.GetLink(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, input.OriginalURL, fetched.OriginalURL)
}

// TestLinkService_CreateLink_StoresURLExactly проверяет, что URL не нормализуется
func TestLinkService_CreateLink_StoresURLExactly(t *testing.T) {
	linkService, linkRepo, _ := setupTestService()
	ctx := context.Background()

	urls := []string{
		"https://Example.com/Path?q=1&b=2#frag",
		"http://example.com",
		"https://example.com/%E2%9C%93/",
	}
	for _, raw := range urls {
		link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{OriginalURL: raw})
		require.NoError(t, err)

		stored, err := linkRepo.GetByShortCode(ctx, link.ShortCode)
		require.NoError(t, err)
		assert.Equal(t, raw, stored.OriginalURL)
	}
}

func TestLinkService_CreateLink_WithCustomCode(t *testing.T) {
	linkService, _, _ := setupTestService()

	link, err := linkService.CreateLink(context.Background(), &models.CreateLinkInput{
		OriginalURL: "https://example.com/test",
		CustomCode:  strPtr("my-custom"),
	})

	require.NoError(t, err)
	assert.Equal(t, "my-custom", link.ShortCode)
}

func TestLinkService_CreateLink_CustomCodeConflict(t *testing.T) {
	linkService, _, _ := setupTestService()
	ctx := context.Background()

	_, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/one",
		CustomCode:  strPtr("promo"),
	})
	require.NoError(t, err)

	link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/two",
		CustomCode:  strPtr("promo"),
	})
	assert.ErrorIs(t, err, service.ErrCodeConflict)
	assert.Nil(t, link)
}

// TestLinkService_CreateLink_ConcurrentCustomCode ровно один из параллельных запросов получает алиас
func TestLinkService_CreateLink_ConcurrentCustomCode(t *testing.T) {
	linkService, _, _ := setupTestService()
	ctx := context.Background()

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
				OriginalURL: fmt.Sprintf("https://example.com/%d", i),
				CustomCode:  strPtr("promo"),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, service.ErrCodeConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
}

func TestLinkService_CreateLink_ConcurrentUnique(t *testing.T) {
	linkService, _, _ := setupTestService()
	ctx := context.Background()

	const n = 1000
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
				OriginalURL: fmt.Sprintf("https://example.com/%d", i),
			})
			if assert.NoError(t, err) {
				codes <- link.ShortCode
			}
		}(i)
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool, n)
	for code := range codes {
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	assert.Len(t, seen, n)
}

func TestLinkService_CreateLink_InvalidURL(t *testing.T) {
	linkService, linkRepo, _ := setupTestService()
	ctx := context.Background()

	invalid := []string{
		"",
		"not-a-url",
		"ftp://example.com/file",
		"javascript:alert(1)",
		"https://",
		"https://exa mple.com",
	}
	for _, raw := range invalid {
		link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
			OriginalURL: raw,
			OwnerID:     strPtr("alice"),
		})
		assert.ErrorIs(t, err, service.ErrInvalidURL, raw)
		assert.Nil(t, link)
	}

	total, err := linkRepo.CountByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestLinkService_CreateLink_SpamDomain(t *testing.T) {
	linkService, _, _ := setupTestService()
	ctx := context.Background()

	for _, raw := range []string{"https://malware.com/bad-link", "http://cdn.MALWARE.com/x"} {
		link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{OriginalURL: raw})
		assert.ErrorIs(t, err, service.ErrSpamDomain)
		assert.Nil(t, link)
	}

	_, err := linkService.CreateLink(ctx, &models.CreateLinkInput{OriginalURL: "https://notmalware.com/"})
	assert.NoError(t, err)
}

func TestLinkService_CreateLink_InvalidCustomCode(t *testing.T) {
	linkService, _, _ := setupTestService()

	// Невалидные коды: слишком короткий, с недопустимыми символами, зарезервированный
	invalidCodes := []string{"ab", "invalid@code", "api", "Health"}

	for _, code := range invalidCodes {
		link, err := linkService.CreateLink(context.Background(), &models.CreateLinkInput{
			OriginalURL: "https://example.com/test",
			CustomCode:  strPtr(code),
		})

		assert.ErrorIs(t, err, service.ErrInvalidCode, code)
		assert.Nil(t, link)
	}
}

// TestLinkService_CreateLink_RetriesInsertCollision вставка повторяется, если код заняли после проверки
func TestLinkService_CreateLink_RetriesInsertCollision(t *testing.T) {
	linkService, linkRepo, _ := setupTestService()
	linkRepo.CreateConflicts = 2

	link, err := linkService.CreateLink(context.Background(), &models.CreateLinkInput{
		OriginalURL: "https://example.com/retry",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, link.ShortCode)
}

func TestLinkService_CreateLink_CodeSpaceExhausted(t *testing.T) {
	linkService, linkRepo, _ := setupTestService()
	linkRepo.CreateConflicts = 100

	link, err := linkService.CreateLink(context.Background(), &models.CreateLinkInput{
		OriginalURL: "https://example.com/full",
	})

	assert.ErrorIs(t, err, service.ErrCodeSpaceExhausted)
	assert.Nil(t, link)
}

// TestLinkService_GetLink_FromCache проверяет получение ссылки из кэша
func TestLinkService_GetLink_FromCache(t *testing.T) {
	linkService, linkRepo, cacheRepo := setupTestService()
	ctx := context.Background()

	createdLink, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/test",
	})
	require.NoError(t, err)

	cachedLink, err := cacheRepo.Get(ctx, createdLink.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, createdLink.ShortCode, cachedLink.ShortCode)

	// Хранилище недоступно, но кэш отвечает
	linkRepo.GetErr = errStorageDown
	link, err := linkService.ResolveLink(ctx, createdLink.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, createdLink.OriginalURL, link.OriginalURL)
	assert.Zero(t, linkRepo.GetCalls)
}

func TestLinkService_GetLink_NotFound(t *testing.T) {
	linkService, _, _ := setupTestService()

	link, err := linkService.GetLink(context.Background(), "missing")

	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.Nil(t, link)
}

func TestLinkService_ResolveLink_NotFoundIsNotUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerFailures = 1
	linkService, linkRepo := setupUncachedService(cfg)
	ctx := context.Background()

	// Промахи не должны размыкать breaker
	for i := 0; i < 3; i++ {
		_, err := linkService.ResolveLink(ctx, "missing")
		assert.ErrorIs(t, err, service.ErrNotFound)
	}
	assert.Equal(t, 3, linkRepo.GetCalls)
}

// TestLinkService_ResolveLink_RetriesOnce при сбое хранилища одна повторная попытка, затем ErrStorageUnavailable
func TestLinkService_ResolveLink_RetriesOnce(t *testing.T) {
	linkService, linkRepo := setupUncachedService(testConfig())
	linkRepo.GetErr = errStorageDown

	link, err := linkService.ResolveLink(context.Background(), "abc1234")

	assert.ErrorIs(t, err, service.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, service.ErrNotFound)
	assert.Nil(t, link)
	assert.Equal(t, 2, linkRepo.GetCalls)
}

func TestLinkService_ResolveLink_BreakerOpens(t *testing.T) {
	cfg := testConfig()
	cfg.LookupRetries = 0
	cfg.BreakerFailures = 2
	linkService, linkRepo := setupUncachedService(cfg)
	linkRepo.GetErr = errStorageDown
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := linkService.ResolveLink(ctx, "abc1234")
		assert.ErrorIs(t, err, service.ErrStorageUnavailable)
	}

	// После двух сбоев запросы в хранилище не идут
	assert.Equal(t, 2, linkRepo.GetCalls)
}

func TestLinkService_DeactivateLink(t *testing.T) {
	linkService, _, cacheRepo := setupTestService()
	ctx := context.Background()

	link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/x",
		OwnerID:     strPtr("alice"),
	})
	require.NoError(t, err)

	updated, err := linkService.DeactivateLink(ctx, link.ID, "alice")
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	// Кэш сброшен, чтение видит неактивную ссылку
	_, err = cacheRepo.Get(ctx, link.ShortCode)
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	resolved, err := linkService.ResolveLink(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.False(t, resolved.IsActive)
}

func TestLinkService_Ownership(t *testing.T) {
	linkService, linkRepo, _ := setupTestService()
	ctx := context.Background()

	link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/x",
		OwnerID:     strPtr("alice"),
	})
	require.NoError(t, err)

	_, err = linkService.DeactivateLink(ctx, link.ID, "mallory")
	assert.ErrorIs(t, err, service.ErrForbidden)

	err = linkService.DeleteLink(ctx, link.ID, "mallory")
	assert.ErrorIs(t, err, service.ErrForbidden)

	err = linkService.DeleteLink(ctx, link.ID, "")
	assert.ErrorIs(t, err, service.ErrForbidden)

	stored, ok := linkRepo.Stored(link.ID)
	require.True(t, ok)
	assert.True(t, stored.IsActive)
	assert.Nil(t, stored.DeletedAt)
}

func TestLinkService_AnonymousLinkIsImmutable(t *testing.T) {
	linkService, _, _ := setupTestService()
	ctx := context.Background()

	link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{OriginalURL: "https://example.com/anon"})
	require.NoError(t, err)

	_, err = linkService.DeactivateLink(ctx, link.ID, "alice")
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestLinkService_MissingLink(t *testing.T) {
	linkService, _, _ := setupTestService()
	ctx := context.Background()

	_, err := linkService.DeactivateLink(ctx, "no-such-id", "alice")
	assert.ErrorIs(t, err, service.ErrNotFound)

	err = linkService.DeleteLink(ctx, "no-such-id", "alice")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

// TestLinkService_DeleteLink_Tombstone код удалённой ссылки больше не выдаётся
func TestLinkService_DeleteLink_Tombstone(t *testing.T) {
	linkService, linkRepo, _ := setupTestService()
	ctx := context.Background()

	link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/old",
		OwnerID:     strPtr("alice"),
		CustomCode:  strPtr("promo"),
	})
	require.NoError(t, err)

	require.NoError(t, linkService.DeleteLink(ctx, link.ID, "alice"))

	_, err = linkService.GetLink(ctx, "promo")
	assert.ErrorIs(t, err, service.ErrNotFound)

	err = linkService.DeleteLink(ctx, link.ID, "alice")
	assert.ErrorIs(t, err, service.ErrNotFound)

	exists, err := linkRepo.ExistsShortCode(ctx, "promo")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/new",
		CustomCode:  strPtr("promo"),
	})
	assert.ErrorIs(t, err, service.ErrCodeConflict)

	page, err := linkService.ListLinks(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount)
}

func TestLinkService_UpdateLink(t *testing.T) {
	linkService, _, _ := setupTestService()
	ctx := context.Background()

	link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/x",
		OwnerID:     strPtr("alice"),
		Title:       strPtr("Old"),
	})
	require.NoError(t, err)
	_, err = linkService.DeactivateLink(ctx, link.ID, "alice")
	require.NoError(t, err)

	active := true
	updated, err := linkService.UpdateLink(ctx, link.ID, "alice", &models.UpdateLinkInput{
		Title:       strPtr("New"),
		Description: strPtr(""),
		IsActive:    &active,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Title)
	assert.Equal(t, "New", *updated.Title)
	assert.Nil(t, updated.Description)
	assert.True(t, updated.IsActive)
	assert.Equal(t, link.OriginalURL, updated.OriginalURL)
}

func TestLinkService_ListLinks(t *testing.T) {
	linkService, _, _ := setupTestService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
			OriginalURL: fmt.Sprintf("https://example.com/%d", i),
			OwnerID:     strPtr("alice"),
		})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	_, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/bob",
		OwnerID:     strPtr("bob"),
	})
	require.NoError(t, err)

	page, err := linkService.ListLinks(ctx, "alice", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.TotalCount)
	require.Len(t, page.Links, 2)
	assert.Equal(t, "https://example.com/4", page.Links[0].OriginalURL)
	assert.Equal(t, "https://example.com/3", page.Links[1].OriginalURL)

	page, err = linkService.ListLinks(ctx, "alice", 2, 4)
	require.NoError(t, err)
	require.Len(t, page.Links, 1)
	assert.Equal(t, "https://example.com/0", page.Links[0].OriginalURL)

	page, err = linkService.ListLinks(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Links)
}

// TestLinkService_ResolveLink_DeactivatedDuringColdRead ссылку выключили между чтением из БД
// и заполнением кэша: следующий редирект должен увидеть неактивную ссылку
func TestLinkService_ResolveLink_DeactivatedDuringColdRead(t *testing.T) {
	linkService, linkRepo, cacheRepo := setupTestService()
	ctx := context.Background()

	link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/x",
		OwnerID:     strPtr("alice"),
	})
	require.NoError(t, err)
	cacheRepo.Reset()

	var once sync.Once
	linkRepo.AfterGetByShortCode = func(*models.Link) {
		once.Do(func() {
			_, err := linkService.DeactivateLink(ctx, link.ID, "alice")
			require.NoError(t, err)
		})
	}

	inFlight, err := linkService.ResolveLink(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.True(t, inFlight.IsActive)

	_, err = cacheRepo.Get(ctx, link.ShortCode)
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	resolved, err := linkService.ResolveLink(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.False(t, resolved.IsActive)
}

func TestLinkService_GetLink_DeletedDuringColdRead(t *testing.T) {
	linkService, linkRepo, cacheRepo := setupTestService()
	ctx := context.Background()

	link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/x",
		OwnerID:     strPtr("alice"),
	})
	require.NoError(t, err)
	cacheRepo.Reset()

	var once sync.Once
	linkRepo.AfterGetByShortCode = func(*models.Link) {
		once.Do(func() {
			require.NoError(t, linkService.DeleteLink(ctx, link.ID, "alice"))
		})
	}

	_, err = linkService.GetLink(ctx, link.ShortCode)
	require.NoError(t, err)

	_, err = linkService.GetLink(ctx, link.ShortCode)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

// TestLinkService_UpdateLink_KeepsConcurrentDeactivation правка заголовка не включает
// ссылку, выключенную между проверкой владельца и записью
func TestLinkService_UpdateLink_KeepsConcurrentDeactivation(t *testing.T) {
	linkService, linkRepo, _ := setupTestService()
	ctx := context.Background()

	link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		OriginalURL: "https://example.com/x",
		OwnerID:     strPtr("alice"),
		Title:       strPtr("old title"),
	})
	require.NoError(t, err)

	var once sync.Once
	linkRepo.AfterGetByID = func(*models.Link) {
		once.Do(func() {
			inactive := false
			_, err := linkRepo.Update(ctx, link.ID, &models.UpdateLinkInput{IsActive: &inactive}, time.Now())
			require.NoError(t, err)
		})
	}

	updated, err := linkService.UpdateLink(ctx, link.ID, "alice", &models.UpdateLinkInput{Title: strPtr("new title")})
	require.NoError(t, err)
	assert.Equal(t, "new title", *updated.Title)
	assert.False(t, updated.IsActive)

	stored, ok := linkRepo.Stored(link.ID)
	require.True(t, ok)
	assert.False(t, stored.IsActive)
}

// TestLinkService_CreateLink_SingleAttemptBudget проверки и вставки делят один бюджет попыток
func TestLinkService_CreateLink_SingleAttemptBudget(t *testing.T) {
	linkService, linkRepo, _ := setupTestService()
	linkRepo.CreateConflicts = 100

	_, err := linkService.CreateLink(context.Background(), &models.CreateLinkInput{
		OriginalURL: "https://example.com/full",
	})

	assert.ErrorIs(t, err, service.ErrCodeSpaceExhausted)
	assert.Equal(t, testConfig().MaxAttempts, linkRepo.ExistsCalls)
}
