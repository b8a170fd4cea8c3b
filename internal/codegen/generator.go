// Package codegen генерирует короткие коды и проверяет пользовательские алиасы.
package codegen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
)

const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	ErrCodeSpaceExhausted = errors.New("не удалось подобрать свободный короткий код")
	ErrInvalidAlias       = errors.New("невалидный алиас")
)

var aliasPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Зарезервированные слова совпадают с путями роутера и служебными именами
var reservedAliases = map[string]bool{
	"api":              true,
	"health":           true,
	"metrics":          true,
	"create-short-url": true,
	"admin":            true,
	"login":            true,
	"logout":           true,
	"signin":           true,
	"signup":           true,
	"auth":             true,
	"dashboard":        true,
	"docs":             true,
	"static":           true,
	"favicon.ico":      true,
	"robots.txt":       true,
}

// AvailabilityChecker проверяет, свободен ли код (включая удалённые ссылки)
type AvailabilityChecker interface {
	ExistsShortCode(ctx context.Context, code string) (bool, error)
}

type Config struct {
	Length             int
	MaxLength          int
	CollisionThreshold float64 // доля коллизий, после которой длина растёт
	MinSamples         int     // минимум попыток в окне перед решением о росте
	AliasMinLength     int
	AliasMaxLength     int
}

var DefaultConfig = Config{
	Length:             7,
	MaxLength:          12,
	CollisionThreshold: 0.1,
	MinSamples:         100,
	AliasMinLength:     3,
	AliasMaxLength:     32,
}

// Generator выдаёт кандидатов из base62 и наращивает длину при частых коллизиях.
type Generator struct {
	cfg     Config
	checker AvailabilityChecker

	mu         sync.Mutex
	length     int
	attempts   int
	collisions int
}

func NewGenerator(cfg Config, checker AvailabilityChecker) *Generator {
	if cfg.Length <= 0 {
		cfg.Length = DefaultConfig.Length
	}
	if cfg.MaxLength < cfg.Length {
		cfg.MaxLength = cfg.Length
	}
	if cfg.CollisionThreshold <= 0 {
		cfg.CollisionThreshold = DefaultConfig.CollisionThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultConfig.MinSamples
	}
	if cfg.AliasMinLength <= 0 {
		cfg.AliasMinLength = DefaultConfig.AliasMinLength
	}
	if cfg.AliasMaxLength < cfg.AliasMinLength {
		cfg.AliasMaxLength = DefaultConfig.AliasMaxLength
	}
	return &Generator{cfg: cfg, checker: checker, length: cfg.Length}
}

// Length текущая длина генерируемых кодов
func (g *Generator) Length() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.length
}

// Generate возвращает случайную строку заданной длины из алфавита
func Generate(length int) (string, error) {
	result := make([]byte, length)
	n := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		result[i] = Alphabet[num.Int64()]
	}
	return string(result), nil
}

// Next генерирует кандидата текущей длины
func (g *Generator) Next() (string, error) {
	return Generate(g.Length())
}

// IsAvailable делегирует проверку хранилищу
func (g *Generator) IsAvailable(ctx context.Context, code string) (bool, error) {
	exists, err := g.checker.ExistsShortCode(ctx, code)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// GenerateUnique перебирает кандидатов, пока не найдёт свободный код.
// Проверка носит предварительный характер: окончательно уникальность
// гарантирует уникальный индекс при вставке.
func (g *Generator) GenerateUnique(ctx context.Context, maxAttempts int) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		code, err := g.Next()
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}

		available, err := g.IsAvailable(ctx, code)
		if err != nil {
			return "", err
		}
		if available {
			return code, nil
		}
		g.ReportCollision()
	}
	return "", ErrCodeSpaceExhausted
}

// ReportCollision учитывает коллизию (при проверке или при вставке)
func (g *Generator) ReportCollision() {
	g.record(true)
}

// ReportSuccess учитывает успешно занятый код
func (g *Generator) ReportSuccess() {
	g.record(false)
}

func (g *Generator) record(collision bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.attempts++
	if collision {
		g.collisions++
	}
	if g.attempts < g.cfg.MinSamples {
		return
	}

	rate := float64(g.collisions) / float64(g.attempts)
	if rate >= g.cfg.CollisionThreshold && g.length < g.cfg.MaxLength {
		g.length++
	}
	g.attempts, g.collisions = 0, 0
}

// ValidateAlias проверяет пользовательский алиас: длина, символы, зарезервированные слова
func (g *Generator) ValidateAlias(alias string) error {
	if len(alias) < g.cfg.AliasMinLength || len(alias) > g.cfg.AliasMaxLength {
		return fmt.Errorf("%w: length must be between %d and %d", ErrInvalidAlias, g.cfg.AliasMinLength, g.cfg.AliasMaxLength)
	}
	if !aliasPattern.MatchString(alias) {
		return fmt.Errorf("%w: only letters, digits, '-' and '_' are allowed", ErrInvalidAlias)
	}
	if reservedAliases[strings.ToLower(alias)] {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidAlias, alias)
	}
	return nil
}
