package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Shortener ShortenerConfig
	Redirect  RedirectConfig
	Clicks    ClicksConfig
	GeoIP     GeoIPConfig
	CORS      CORSConfig
}

type AppConfig struct {
	Port    string
	Env     string
	BaseURL string // префикс коротких ссылок, например https://sho.rt
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type AuthConfig struct {
	APIKeys          map[string]string // API key -> owner id
	JWTSecret        string
	TrustOwnerHeader bool // доверять X-User-ID от фронтенда
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	CreatePerSecond   float64
	CreateBurst       int
}

type ShortenerConfig struct {
	CodeLength         int
	MaxCodeLength      int
	MaxAttempts        int
	CollisionThreshold float64
	AliasMinLength     int
	AliasMaxLength     int
	BlockedDomains     []string
}

type RedirectConfig struct {
	LookupTimeout   time.Duration
	LookupRetries   int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

type ClicksConfig struct {
	Workers        int
	BufferSize     int
	MaxAttempts    int
	InitialBackoff time.Duration
	AttemptTimeout time.Duration
}

type GeoIPConfig struct {
	DBPath string
}

type CORSConfig struct {
	AllowedOrigins []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("BASE_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 25)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", "24h")

	v.SetDefault("TRUST_OWNER_HEADER", false)

	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_CREATE_RPS", 2)
	v.SetDefault("RATE_LIMIT_CREATE_BURST", 5)

	v.SetDefault("CODE_LENGTH", 7)
	v.SetDefault("CODE_MAX_LENGTH", 12)
	v.SetDefault("CODE_MAX_ATTEMPTS", 10)
	v.SetDefault("CODE_COLLISION_THRESHOLD", 0.1)
	v.SetDefault("ALIAS_MIN_LENGTH", 3)
	v.SetDefault("ALIAS_MAX_LENGTH", 32)

	v.SetDefault("REDIRECT_LOOKUP_TIMEOUT", "50ms")
	v.SetDefault("REDIRECT_LOOKUP_RETRIES", 1)
	v.SetDefault("REDIRECT_BREAKER_FAILURES", 5)
	v.SetDefault("REDIRECT_BREAKER_TIMEOUT", "10s")

	v.SetDefault("CLICK_WORKERS", 3)
	v.SetDefault("CLICK_BUFFER", 1000)
	v.SetDefault("CLICK_MAX_ATTEMPTS", 5)
	v.SetDefault("CLICK_INITIAL_BACKOFF", "100ms")
	v.SetDefault("CLICK_ATTEMPT_TIMEOUT", "5s")

	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
}

// Load читает .env (если есть) и переменные окружения
func Load() (*Config, error) {
	return LoadFile(".env")
}

func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	cfg.App.Port = v.GetString("APP_PORT")
	cfg.App.Env = v.GetString("APP_ENV")
	cfg.App.BaseURL = strings.TrimRight(v.GetString("BASE_URL"), "/")

	cfg.DB.Host = v.GetString("DB_HOST")
	cfg.DB.Port = v.GetString("DB_PORT")
	cfg.DB.User = v.GetString("DB_USER")
	cfg.DB.Password = v.GetString("DB_PASSWORD")
	cfg.DB.Name = v.GetString("DB_NAME")
	cfg.DB.SSLMode = v.GetString("DB_SSLMODE")
	cfg.DB.MaxConns = v.GetInt32("DB_MAX_CONNS")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetString("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.CacheTTL = v.GetDuration("CACHE_TTL")

	// Format: key1:owner1,key2:owner2
	cfg.Auth.APIKeys = parseAPIKeys(v.GetString("API_KEYS"))
	cfg.Auth.JWTSecret = v.GetString("JWT_SECRET")
	cfg.Auth.TrustOwnerHeader = v.GetBool("TRUST_OWNER_HEADER")

	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("RATE_LIMIT_RPS")
	cfg.RateLimit.BurstSize = v.GetInt("RATE_LIMIT_BURST")
	cfg.RateLimit.CreatePerSecond = v.GetFloat64("RATE_LIMIT_CREATE_RPS")
	cfg.RateLimit.CreateBurst = v.GetInt("RATE_LIMIT_CREATE_BURST")

	cfg.Shortener.CodeLength = v.GetInt("CODE_LENGTH")
	cfg.Shortener.MaxCodeLength = v.GetInt("CODE_MAX_LENGTH")
	cfg.Shortener.MaxAttempts = v.GetInt("CODE_MAX_ATTEMPTS")
	cfg.Shortener.CollisionThreshold = v.GetFloat64("CODE_COLLISION_THRESHOLD")
	cfg.Shortener.AliasMinLength = v.GetInt("ALIAS_MIN_LENGTH")
	cfg.Shortener.AliasMaxLength = v.GetInt("ALIAS_MAX_LENGTH")
	cfg.Shortener.BlockedDomains = splitList(v.GetString("BLOCKED_DOMAINS"))

	cfg.Redirect.LookupTimeout = v.GetDuration("REDIRECT_LOOKUP_TIMEOUT")
	cfg.Redirect.LookupRetries = v.GetInt("REDIRECT_LOOKUP_RETRIES")
	cfg.Redirect.BreakerFailures = v.GetUint32("REDIRECT_BREAKER_FAILURES")
	cfg.Redirect.BreakerTimeout = v.GetDuration("REDIRECT_BREAKER_TIMEOUT")

	cfg.Clicks.Workers = v.GetInt("CLICK_WORKERS")
	cfg.Clicks.BufferSize = v.GetInt("CLICK_BUFFER")
	cfg.Clicks.MaxAttempts = v.GetInt("CLICK_MAX_ATTEMPTS")
	cfg.Clicks.InitialBackoff = v.GetDuration("CLICK_INITIAL_BACKOFF")
	cfg.Clicks.AttemptTimeout = v.GetDuration("CLICK_ATTEMPT_TIMEOUT")

	cfg.GeoIP.DBPath = v.GetString("GEOIP_DB_PATH")
	cfg.CORS.AllowedOrigins = splitList(v.GetString("CORS_ALLOWED_ORIGINS"))

	return &cfg, nil
}

// IsDevelopment включает человекочитаемые логи
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// parseAPIKeys parses comma-separated API keys in format "key1:owner1,key2:owner2"
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range splitList(raw) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) == 2 {
			keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return keys
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
