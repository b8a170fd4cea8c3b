package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss ключа нет в кэше
	ErrCacheMiss = errors.New("cache miss")
	// ErrCacheStale ссылку изменили после чтения версии, запись в кэш отменена
	ErrCacheStale = errors.New("cache entry is stale")
)

// CacheRepository кэш ссылок по короткому коду для горячего пути редиректа.
//
// Каждый код имеет версию, которую меняет Invalidate. Читатель берёт версию до
// чтения из БД и передаёт её в Set: если между ними ссылку изменили, запись
// отклоняется с ErrCacheStale.
type CacheRepository interface {
	Get(ctx context.Context, code string) (*models.Link, error)
	Version(ctx context.Context, code string) (string, error)
	Set(ctx context.Context, link *models.Link, version string, ttl time.Duration) error
	Invalidate(ctx context.Context, code string, ttl time.Duration) error
}

type cacheRepository struct {
	redis *RedisDB
}

func NewCacheRepository(redis *RedisDB) CacheRepository {
	return &cacheRepository{redis: redis}
}

// cachedLink хранит в кэше только поля, нужные для редиректа и инвалидации
type cachedLink struct {
	ID          string  `json:"id"`
	ShortCode   string  `json:"c"`
	OriginalURL string  `json:"u"`
	OwnerID     *string `json:"o,omitempty"`
	IsActive    bool    `json:"a"`
}

// KEYS[1] ссылка, KEYS[2] версия; ARGV: значение, ttl в мс, ожидаемая версия
var setIfVersion = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '') ~= ARGV[3] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

func (r *cacheRepository) Get(ctx context.Context, code string) (*models.Link, error) {
	data, err := r.redis.Client.Get(ctx, r.key(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var cached cachedLink
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal link: %w", err)
	}

	return &models.Link{
		ID:          cached.ID,
		ShortCode:   cached.ShortCode,
		OriginalURL: cached.OriginalURL,
		OwnerID:     cached.OwnerID,
		IsActive:    cached.IsActive,
	}, nil
}

// Version текущая версия кода; пустая строка, если код ещё не менялся
func (r *cacheRepository) Version(ctx context.Context, code string) (string, error) {
	version, err := r.redis.Client.Get(ctx, r.versionKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read cache version: %w", err)
	}
	return version, nil
}

func (r *cacheRepository) Set(ctx context.Context, link *models.Link, version string, ttl time.Duration) error {
	data, err := json.Marshal(cachedLink{
		ID:          link.ID,
		ShortCode:   link.ShortCode,
		OriginalURL: link.OriginalURL,
		OwnerID:     link.OwnerID,
		IsActive:    link.IsActive,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal link: %w", err)
	}

	keys := []string{r.key(link.ShortCode), r.versionKey(link.ShortCode)}
	stored, err := setIfVersion.Run(ctx, r.redis.Client, keys, data, ttl.Milliseconds(), version).Int()
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if stored == 0 {
		return ErrCacheStale
	}
	return nil
}

// Invalidate удаляет ссылку и выдаёт коду новую версию. Версия живёт не меньше
// записи, иначе запоздавший Set со старой версией снова прошёл бы проверку.
func (r *cacheRepository) Invalidate(ctx context.Context, code string, ttl time.Duration) error {
	_, err := r.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.versionKey(code), uuid.NewString(), 2*ttl)
		pipe.Del(ctx, r.key(code))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

func (r *cacheRepository) key(code string) string {
	return "link:" + code
}

func (r *cacheRepository) versionKey(code string) string {
	return "link:v:" + code
}
