package mocks

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/SergeiKhy/shrinkr/internal/repository"
)

// MockLinkRepository implements repository.LinkRepository for testing
type MockLinkRepository struct {
	mu     sync.RWMutex
	byID   map[string]*models.Link
	byCode map[string]string // short code -> id, включая удалённые

	// GetErr, если задан, возвращается из GetByShortCode
	GetErr   error
	GetCalls int
	// CreateConflicts первые N вставок завершаются ErrCodeExists
	CreateConflicts int
	TouchErr        error
	ExistsCalls     int

	// AfterGetByShortCode и AfterGetByID вызываются после чтения, вне блокировки,
	// чтобы вклинить параллельное изменение между чтением и действием вызывающего
	AfterGetByShortCode func(link *models.Link)
	AfterGetByID        func(link *models.Link)
}

func NewMockLinkRepository() *MockLinkRepository {
	return &MockLinkRepository{
		byID:   make(map[string]*models.Link),
		byCode: make(map[string]string),
	}
}

func (m *MockLinkRepository) Create(ctx context.Context, link *models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateConflicts > 0 {
		m.CreateConflicts--
		return repository.ErrCodeExists
	}
	if _, exists := m.byCode[link.ShortCode]; exists {
		return repository.ErrCodeExists
	}

	stored := *link
	m.byID[link.ID] = &stored
	m.byCode[link.ShortCode] = link.ID
	return nil
}

func (m *MockLinkRepository) GetByShortCode(ctx context.Context, code string) (*models.Link, error) {
	m.mu.Lock()
	m.GetCalls++
	getErr := m.GetErr
	hook := m.AfterGetByShortCode
	m.mu.Unlock()

	if getErr != nil {
		return nil, getErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	id, exists := m.byCode[code]
	if !exists {
		m.mu.RUnlock()
		return nil, repository.ErrLinkNotFound
	}
	link, err := m.live(id)
	m.mu.RUnlock()

	if err == nil && hook != nil {
		hook(link)
	}
	return link, err
}

func (m *MockLinkRepository) GetByID(ctx context.Context, id string) (*models.Link, error) {
	m.mu.RLock()
	link, err := m.live(id)
	hook := m.AfterGetByID
	m.mu.RUnlock()

	if err == nil && hook != nil {
		hook(link)
	}
	return link, err
}

func (m *MockLinkRepository) live(id string) (*models.Link, error) {
	link, exists := m.byID[id]
	if !exists || link.DeletedAt != nil {
		return nil, repository.ErrLinkNotFound
	}
	copied := *link
	return &copied, nil
}

func (m *MockLinkRepository) ExistsShortCode(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExistsCalls++
	_, exists := m.byCode[code]
	return exists, nil
}

func (m *MockLinkRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Link, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owned := m.owned(ownerID)
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID < owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	total := int64(len(owned))
	if offset >= len(owned) {
		return []models.Link{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(owned) {
		end = len(owned)
	}
	return owned[offset:end], total, nil
}

func (m *MockLinkRepository) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.owned(ownerID))), nil
}

func (m *MockLinkRepository) owned(ownerID string) []models.Link {
	var out []models.Link
	for _, link := range m.byID {
		if link.DeletedAt == nil && link.OwnerID != nil && *link.OwnerID == ownerID {
			out = append(out, *link)
		}
	}
	return out
}

// Update применяет только переданные поля, как частичный UPDATE в Postgres
func (m *MockLinkRepository) Update(ctx context.Context, id string, patch *models.UpdateLinkInput, at time.Time) (*models.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.byID[id]
	if !exists || stored.DeletedAt != nil {
		return nil, repository.ErrLinkNotFound
	}
	if patch.Title != nil {
		stored.Title = emptyToNil(*patch.Title)
	}
	if patch.Description != nil {
		stored.Description = emptyToNil(*patch.Description)
	}
	if patch.IsActive != nil {
		stored.IsActive = *patch.IsActive
	}
	stored.UpdatedAt = at

	copied := *stored
	return &copied, nil
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (m *MockLinkRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.byID[id]
	if !exists || stored.DeletedAt != nil {
		return repository.ErrLinkNotFound
	}
	stored.DeletedAt = &at
	stored.IsActive = false
	stored.UpdatedAt = at
	return nil
}

func (m *MockLinkRepository) TouchLastClick(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.TouchErr != nil {
		return m.TouchErr
	}
	stored, exists := m.byID[id]
	if !exists {
		return repository.ErrLinkNotFound
	}
	if stored.LastClickAt == nil || at.After(*stored.LastClickAt) {
		stored.LastClickAt = &at
	}
	return nil
}

// Stored возвращает запись как есть, включая удалённые
func (m *MockLinkRepository) Stored(id string) (models.Link, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.byID[id]
	if !ok {
		return models.Link{}, false
	}
	return *link, true
}

func (m *MockLinkRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[string]*models.Link)
	m.byCode = make(map[string]string)
	m.GetErr = nil
	m.GetCalls = 0
	m.CreateConflicts = 0
	m.TouchErr = nil
	m.ExistsCalls = 0
	m.AfterGetByShortCode = nil
	m.AfterGetByID = nil
}

// MockCacheRepository implements repository.CacheRepository for testing.
// Версии ведёт так же, как Redis-реализация: Invalidate выдаёт новую, Set её сверяет.
type MockCacheRepository struct {
	mu       sync.RWMutex
	cache    map[string]*models.Link
	versions map[string]string
	seq      int
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		cache:    make(map[string]*models.Link),
		versions: make(map[string]string),
	}
}

func (m *MockCacheRepository) Get(ctx context.Context, code string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.cache[code]
	if !exists {
		return nil, repository.ErrCacheMiss
	}
	copied := *link
	return &copied, nil
}

func (m *MockCacheRepository) Version(ctx context.Context, code string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[code], nil
}

func (m *MockCacheRepository) Set(ctx context.Context, link *models.Link, version string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.versions[link.ShortCode] != version {
		return repository.ErrCacheStale
	}
	copied := *link
	m.cache[link.ShortCode] = &copied
	return nil
}

func (m *MockCacheRepository) Invalidate(ctx context.Context, code string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.versions[code] = strconv.Itoa(m.seq)
	delete(m.cache, code)
	return nil
}

func (m *MockCacheRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*models.Link)
	m.versions = make(map[string]string)
}

// MockClickRepository implements repository.ClickRepository for testing.
// Владельца клика определяет через links, как JOIN в SQL.
type MockClickRepository struct {
	mu     sync.RWMutex
	links  *MockLinkRepository
	clicks []models.ClickEvent

	// FailCreates первые N вызовов Create завершаются CreateErr
	FailCreates int
	CreateErr   error
	CreateCalls int
}

func NewMockClickRepository(links *MockLinkRepository) *MockClickRepository {
	return &MockClickRepository{links: links}
}

func (m *MockClickRepository) Create(ctx context.Context, click *models.ClickEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	if m.FailCreates != 0 {
		if m.FailCreates > 0 {
			m.FailCreates--
		}
		return m.CreateErr
	}
	for _, existing := range m.clicks {
		if existing.ID == click.ID {
			return nil
		}
	}
	m.clicks = append(m.clicks, *click)
	return nil
}

// Add кладёт клик напрямую, минуя ошибки
func (m *MockClickRepository) Add(click models.ClickEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicks = append(m.clicks, click)
}

func (m *MockClickRepository) All() []models.ClickEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ClickEvent(nil), m.clicks...)
}

func (m *MockClickRepository) ownerClicks(ownerID string) []models.RecentClick {
	var out []models.RecentClick
	for _, click := range m.clicks {
		link, ok := m.links.Stored(click.LinkID)
		if !ok || link.DeletedAt != nil || link.OwnerID == nil || *link.OwnerID != ownerID {
			continue
		}
		out = append(out, models.RecentClick{
			ClickEvent:  click,
			ShortCode:   link.ShortCode,
			OriginalURL: link.OriginalURL,
		})
	}
	return out
}

func (m *MockClickRepository) CountByOwner(ctx context.Context, ownerID string, since *time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, click := range m.ownerClicks(ownerID) {
		if since == nil || !click.ClickedAt.Before(*since) {
			n++
		}
	}
	return n, nil
}

func (m *MockClickRepository) TopByOwner(ctx context.Context, ownerID string, dim models.Dimension, since time.Time, limit int) ([]models.GroupCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for _, click := range m.ownerClicks(ownerID) {
		if click.ClickedAt.Before(since) {
			continue
		}
		var key *string
		switch dim {
		case models.DimensionCountry:
			key = click.Country
		case models.DimensionDevice:
			key = click.Device
		case models.DimensionBrowser:
			key = click.Browser
		}
		if key == nil || *key == "" {
			continue
		}
		counts[*key]++
	}

	groups := make([]models.GroupCount, 0, len(counts))
	for key, count := range counts {
		groups = append(groups, models.GroupCount{Key: key, Count: count})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count == groups[j].Count {
			return groups[i].Key < groups[j].Key
		}
		return groups[i].Count > groups[j].Count
	})
	if len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

func (m *MockClickRepository) DailyByOwner(ctx context.Context, ownerID string, since time.Time) ([]models.DailyClickStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for _, click := range m.ownerClicks(ownerID) {
		if click.ClickedAt.Before(since) {
			continue
		}
		counts[click.ClickedAt.UTC().Format("2006-01-02")]++
	}

	out := make([]models.DailyClickStats, 0, len(counts))
	for date, n := range counts {
		out = append(out, models.DailyClickStats{Date: date, Clicks: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *MockClickRepository) RecentByOwner(ctx context.Context, ownerID string, limit int) ([]models.RecentClick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clicks := m.ownerClicks(ownerID)
	sort.SliceStable(clicks, func(i, j int) bool {
		return clicks[i].ClickedAt.After(clicks[j].ClickedAt)
	})
	if len(clicks) > limit {
		clicks = clicks[:limit]
	}
	return clicks, nil
}

func (m *MockClickRepository) CountByLinks(ctx context.Context, linkIDs []string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := toSet(linkIDs)
	counts := make(map[string]int64)
	for _, click := range m.clicks {
		if wanted[click.LinkID] {
			counts[click.LinkID]++
		}
	}
	return counts, nil
}

func (m *MockClickRepository) RecentByLinks(ctx context.Context, linkIDs []string, perLink int) (map[string][]models.ClickEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := toSet(linkIDs)
	sorted := append([]models.ClickEvent(nil), m.clicks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ClickedAt.After(sorted[j].ClickedAt)
	})

	out := make(map[string][]models.ClickEvent)
	for _, click := range sorted {
		if wanted[click.LinkID] && len(out[click.LinkID]) < perLink {
			out[click.LinkID] = append(out[click.LinkID], click)
		}
	}
	return out, nil
}

func (m *MockClickRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicks = nil
	m.FailCreates = 0
	m.CreateErr = nil
	m.CreateCalls = 0
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
