package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/models"
	"github.com/jackc/pgx/v5"
)

// ClickRepository журнал кликов: только добавление и чтение
type ClickRepository interface {
	Create(ctx context.Context, click *models.ClickEvent) error
	CountByOwner(ctx context.Context, ownerID string, since *time.Time) (int64, error)
	TopByOwner(ctx context.Context, ownerID string, dim models.Dimension, since time.Time, limit int) ([]models.GroupCount, error)
	DailyByOwner(ctx context.Context, ownerID string, since time.Time) ([]models.DailyClickStats, error)
	RecentByOwner(ctx context.Context, ownerID string, limit int) ([]models.RecentClick, error)
	CountByLinks(ctx context.Context, linkIDs []string) (map[string]int64, error)
	RecentByLinks(ctx context.Context, linkIDs []string, perLink int) (map[string][]models.ClickEvent, error)
}

type clickRepository struct {
	db *PostgresDB
}

func NewClickRepository(db *PostgresDB) ClickRepository {
	return &clickRepository{db: db}
}

// Колонки, по которым разрешена группировка
var dimensionColumns = map[models.Dimension]string{
	models.DimensionCountry: "c.country",
	models.DimensionDevice:  "c.device",
	models.DimensionBrowser: "c.browser",
}

const clickColumns = `c.id, c.link_id, c.clicked_at, c.ip_address, c.user_agent, c.referrer, c.country, c.device, c.browser`

// ownerClicks ограничивает клики живыми ссылками владельца
const ownerClicks = `
	FROM clicks c
	JOIN links l ON c.link_id = l.id
	WHERE l.owner_id = $1 AND l.deleted_at IS NULL
`

func scanClick(row pgx.Row, extra ...any) (*models.ClickEvent, error) {
	click := &models.ClickEvent{}
	dest := []any{
		&click.ID,
		&click.LinkID,
		&click.ClickedAt,
		&click.IPAddress,
		&click.UserAgent,
		&click.Referrer,
		&click.Country,
		&click.Device,
		&click.Browser,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return click, nil
}

func (r *clickRepository) Create(ctx context.Context, click *models.ClickEvent) error {
	query := `
		INSERT INTO clicks (id, link_id, clicked_at, ip_address, user_agent, referrer, country, device, browser)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.Pool.Exec(ctx, query,
		click.ID,
		click.LinkID,
		click.ClickedAt,
		click.IPAddress,
		click.UserAgent,
		click.Referrer,
		click.Country,
		click.Device,
		click.Browser,
	)
	if err != nil {
		return fmt.Errorf("failed to record click: %w", err)
	}

	return nil
}

func (r *clickRepository) CountByOwner(ctx context.Context, ownerID string, since *time.Time) (int64, error) {
	query := `SELECT COUNT(*) ` + ownerClicks
	args := []any{ownerID}
	if since != nil {
		query += ` AND c.clicked_at >= $2`
		args = append(args, *since)
	}

	var total int64
	if err := r.db.Pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count clicks: %w", err)
	}
	return total, nil
}

func (r *clickRepository) TopByOwner(ctx context.Context, ownerID string, dim models.Dimension, since time.Time, limit int) ([]models.GroupCount, error) {
	column, ok := dimensionColumns[dim]
	if !ok {
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}

	query := `
		SELECT ` + column + ` AS grp, COUNT(*) AS cnt
		` + ownerClicks + `
			AND c.clicked_at >= $2
			AND ` + column + ` IS NOT NULL AND ` + column + ` <> ''
		GROUP BY grp
		ORDER BY cnt DESC, grp
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, ownerID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to group clicks by %s: %w", dim, err)
	}
	defer rows.Close()

	groups := []models.GroupCount{}
	for rows.Next() {
		var g models.GroupCount
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}

	return groups, nil
}

// DailyByOwner возвращает только дни с кликами (в UTC); заполнение нулями делает сервис
func (r *clickRepository) DailyByOwner(ctx context.Context, ownerID string, since time.Time) ([]models.DailyClickStats, error) {
	query := `
		SELECT
			to_char((c.clicked_at AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD') AS day,
			COUNT(*) AS clicks
		` + ownerClicks + `
			AND c.clicked_at >= $2
		GROUP BY day
		ORDER BY day
	`

	rows, err := r.db.Pool.Query(ctx, query, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	defer rows.Close()

	stats := []models.DailyClickStats{}
	for rows.Next() {
		var dailyStat models.DailyClickStats
		if err := rows.Scan(&dailyStat.Date, &dailyStat.Clicks); err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		stats = append(stats, dailyStat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily stats: %w", err)
	}

	return stats, nil
}

func (r *clickRepository) RecentByOwner(ctx context.Context, ownerID string, limit int) ([]models.RecentClick, error) {
	query := `
		SELECT ` + clickColumns + `, l.short_code, l.original_url
		` + ownerClicks + `
		ORDER BY c.clicked_at DESC, c.id
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent clicks: %w", err)
	}
	defer rows.Close()

	recent := []models.RecentClick{}
	for rows.Next() {
		var shortCode, originalURL string
		click, err := scanClick(rows, &shortCode, &originalURL)
		if err != nil {
			return nil, fmt.Errorf("failed to scan click: %w", err)
		}
		recent = append(recent, models.RecentClick{
			ClickEvent:  *click,
			ShortCode:   shortCode,
			OriginalURL: originalURL,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clicks: %w", err)
	}

	return recent, nil
}

func (r *clickRepository) CountByLinks(ctx context.Context, linkIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(linkIDs))
	if len(linkIDs) == 0 {
		return counts, nil
	}

	rows, err := r.db.Pool.Query(ctx,
		`SELECT link_id, COUNT(*) FROM clicks WHERE link_id = ANY($1) GROUP BY link_id`, linkIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count clicks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var linkID string
		var count int64
		if err := rows.Scan(&linkID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan click count: %w", err)
		}
		counts[linkID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating click counts: %w", err)
	}

	return counts, nil
}

func (r *clickRepository) RecentByLinks(ctx context.Context, linkIDs []string, perLink int) (map[string][]models.ClickEvent, error) {
	recent := make(map[string][]models.ClickEvent, len(linkIDs))
	if len(linkIDs) == 0 || perLink <= 0 {
		return recent, nil
	}

	query := `
		SELECT ` + clickColumns + `
		FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY link_id ORDER BY clicked_at DESC, id) AS rn
			FROM clicks
			WHERE link_id = ANY($1)
		) c
		WHERE c.rn <= $2
		ORDER BY c.link_id, c.clicked_at DESC, c.id
	`

	rows, err := r.db.Pool.Query(ctx, query, linkIDs, perLink)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent clicks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		click, err := scanClick(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan click: %w", err)
		}
		recent[click.LinkID] = append(recent[click.LinkID], *click)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clicks: %w", err)
	}

	return recent, nil
}
