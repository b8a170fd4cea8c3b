package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrLinkNotFound = errors.New("link not found")
	ErrCodeExists   = errors.New("short code already exists")
)

// pgUniqueViolation код ошибки PostgreSQL для нарушения уникального индекса
const pgUniqueViolation = "23505"

type LinkRepository interface {
	Create(ctx context.Context, link *models.Link) error
	GetByShortCode(ctx context.Context, code string) (*models.Link, error)
	GetByID(ctx context.Context, id string) (*models.Link, error)
	ExistsShortCode(ctx context.Context, code string) (bool, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Link, int64, error)
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
	Update(ctx context.Context, id string, patch *models.UpdateLinkInput, at time.Time) (*models.Link, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
	TouchLastClick(ctx context.Context, id string, at time.Time) error
}

type linkRepository struct {
	db *PostgresDB
}

func NewLinkRepository(db *PostgresDB) LinkRepository {
	return &linkRepository{db: db}
}

const linkColumns = `id, short_code, original_url, owner_id, title, description, is_active, created_at, updated_at, last_click_at, deleted_at`

func scanLink(row pgx.Row) (*models.Link, error) {
	link := &models.Link{}
	err := row.Scan(
		&link.ID,
		&link.ShortCode,
		&link.OriginalURL,
		&link.OwnerID,
		&link.Title,
		&link.Description,
		&link.IsActive,
		&link.CreatedAt,
		&link.UpdatedAt,
		&link.LastClickAt,
		&link.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return link, nil
}

// Create вставляет ссылку; уникальный индекс по short_code делает вставку атомарной
func (r *linkRepository) Create(ctx context.Context, link *models.Link) error {
	query := `
		INSERT INTO links (id, short_code, original_url, owner_id, title, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		link.ID,
		link.ShortCode,
		link.OriginalURL,
		link.OwnerID,
		link.Title,
		link.Description,
		link.IsActive,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCodeExists
		}
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

func (r *linkRepository) GetByShortCode(ctx context.Context, code string) (*models.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE short_code = $1 AND deleted_at IS NULL`

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return link, nil
}

func (r *linkRepository) GetByID(ctx context.Context, id string) (*models.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE id = $1 AND deleted_at IS NULL`

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return link, nil
}

// ExistsShortCode учитывает и удалённые ссылки: код не выдаётся повторно
func (r *linkRepository) ExistsShortCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM links WHERE short_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check short code: %w", err)
	}
	return exists, nil
}

func (r *linkRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Link, int64, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	links := []models.Link{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, *link)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating links: %w", err)
	}

	total, err := r.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}

	return links, total, nil
}

func (r *linkRepository) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM links WHERE owner_id = $1 AND deleted_at IS NULL`, ownerID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}
	return total, nil
}

// Update меняет только переданные поля одним UPDATE, не перезаписывая параллельные изменения.
// Пустая строка в Title или Description очищает поле.
func (r *linkRepository) Update(ctx context.Context, id string, patch *models.UpdateLinkInput, at time.Time) (*models.Link, error) {
	query := `
		UPDATE links
		SET title = NULLIF(COALESCE($2, title), ''),
			description = NULLIF(COALESCE($3, description), ''),
			is_active = COALESCE($4, is_active),
			updated_at = $5
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + linkColumns

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query,
		id,
		patch.Title,
		patch.Description,
		patch.IsActive,
		at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to update link: %w", err)
	}
	return link, nil
}

// SoftDelete оставляет tombstone: строка с кодом остаётся, но исчезает из выборок
func (r *linkRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE links
		SET deleted_at = $2, is_active = FALSE, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// TouchLastClick двигает last_click_at только вперёд
func (r *linkRepository) TouchLastClick(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE links
		SET last_click_at = GREATEST(COALESCE(last_click_at, $2), $2)
		WHERE id = $1
	`

	if _, err := r.db.Pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to touch link: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
