package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Ключи gin.Context
const (
	ownerKey       = "owner_id"
	ownerSourceKey = "owner_source"
)

// Источники идентичности
const (
	SourceJWT    = "jwt"
	SourceAPIKey = "api_key"
	SourceHeader = "header"
)

var errUnknownAPIKey = errors.New("unknown api key")

// IdentityConfig конфигурация определения владельца запроса
type IdentityConfig struct {
	// APIKeys карта API ключей к владельцам
	APIKeys map[string]string
	// JWTSecret секрет HS256; пустой отключает проверку Bearer JWT
	JWTSecret string
	// TrustOwnerHeader принимать владельца из OwnerHeader (фронтенд за прокси).
	// Игнорируется, если настроены JWTSecret или APIKeys.
	TrustOwnerHeader bool
	OwnerHeader      string
	APIKeyHeader     string
}

// Identity определяет владельца запроса. Порядок: Bearer JWT, API ключ, доверенный заголовок.
// Анонимный запрос проходит дальше без владельца; невалидные учётные данные дают 401.
func Identity(config IdentityConfig) gin.HandlerFunc {
	if config.OwnerHeader == "" {
		config.OwnerHeader = "X-User-ID"
	}
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = "X-API-Key"
	}

	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			owner, source, err := config.resolveBearer(token)
			if err != nil {
				abortUnauthorized(c, "invalid_token", "Невалидный токен авторизации")
				return
			}
			setOwner(c, owner, source)
			c.Next()
			return
		}

		if apiKey := c.GetHeader(config.APIKeyHeader); apiKey != "" {
			owner, err := config.lookupAPIKey(apiKey)
			if err != nil {
				abortUnauthorized(c, "invalid_api_key", "Невалидный API ключ")
				return
			}
			setOwner(c, owner, SourceAPIKey)
			c.Next()
			return
		}

		if config.headerTrusted() {
			if owner := strings.TrimSpace(c.GetHeader(config.OwnerHeader)); owner != "" {
				setOwner(c, owner, SourceHeader)
			}
		}

		c.Next()
	}
}

// headerTrusted: при настроенной аутентификации заголовок владельца её не подменяет
func (config IdentityConfig) headerTrusted() bool {
	return config.TrustOwnerHeader && config.JWTSecret == "" && len(config.APIKeys) == 0
}

// RequireOwner отклоняет анонимные запросы
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := OwnerFromContext(c); !ok {
			abortUnauthorized(c, "unauthorized", "Требуется идентификатор пользователя")
			return
		}
		c.Next()
	}
}

// OwnerFromContext извлекает владельца из контекста
func OwnerFromContext(c *gin.Context) (string, bool) {
	owner := c.GetString(ownerKey)
	return owner, owner != ""
}

// OwnerSource откуда взят владелец (jwt, api_key, header)
func OwnerSource(c *gin.Context) string {
	return c.GetString(ownerSourceKey)
}

func setOwner(c *gin.Context, owner, source string) {
	c.Set(ownerKey, owner)
	c.Set(ownerSourceKey, source)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// resolveBearer: при заданном секрете токен обязан быть JWT, иначе Bearer трактуется как API ключ
func (config IdentityConfig) resolveBearer(token string) (string, string, error) {
	if config.JWTSecret == "" {
		owner, err := config.lookupAPIKey(token)
		return owner, SourceAPIKey, err
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", err
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", "", err
	}
	if subject == "" {
		return "", "", jwt.ErrTokenInvalidSubject
	}
	return subject, SourceJWT, nil
}

// lookupAPIKey сравнивает ключи за постоянное время
func (config IdentityConfig) lookupAPIKey(apiKey string) (string, error) {
	var owner string
	for validKey, name := range config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
			owner = name
		}
	}
	if owner == "" {
		return "", errUnknownAPIKey
	}
	return owner, nil
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   code,
		"message": message,
	})
}
