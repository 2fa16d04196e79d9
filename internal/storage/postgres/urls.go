package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// AddURL inserts a target URL, reactivating it if it already exists.
func (s *PostgresStorage) AddURL(ctx context.Context, u *types.TargetURL) error {
	u.URL = strings.TrimSpace(u.URL)
	if err := u.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if u.Category == "" {
		u.Category = types.CategoryBroker
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Active = true

	_, err := s.pool.Exec(ctx, `
		INSERT INTO urls (url, name, category, active, created_at)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (url) DO UPDATE SET
			active = TRUE,
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE urls.name END,
			category = EXCLUDED.category
	`, u.URL, u.Name, u.Category, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add url %s: %w", u.URL, err)
	}
	return nil
}

// RemoveURL deactivates a URL.
func (s *PostgresStorage) RemoveURL(ctx context.Context, url string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE urls SET active = FALSE WHERE url = $1`, strings.TrimSpace(url))
	if err != nil {
		return fmt.Errorf("failed to remove url %s: %w", url, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("url %s: %w", url, storage.ErrNotFound)
	}
	return nil
}

const urlColumns = `url, name, category, active, last_scraped, error_count, last_error, created_at`

// GetURL returns one target URL.
func (s *PostgresStorage) GetURL(ctx context.Context, url string) (*types.TargetURL, error) {
	u, err := scanURL(s.pool.QueryRow(ctx, `SELECT `+urlColumns+` FROM urls WHERE url = $1`, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("url %s: %w", url, storage.ErrNotFound)
	}
	return u, err
}

// ListURLs returns target URLs in insertion order.
func (s *PostgresStorage) ListURLs(ctx context.Context, activeOnly bool) ([]*types.TargetURL, error) {
	query := `SELECT ` + urlColumns + ` FROM urls`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at, url`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list urls: %w", err)
	}
	defer rows.Close()

	var urls []*types.TargetURL
	for rows.Next() {
		u, err := scanURL(rows)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// GetURLStats summarizes the URL list.
func (s *PostgresStorage) GetURLStats(ctx context.Context) (*types.URLStats, error) {
	stats := &types.URLStats{ByCategory: make(map[string]int)}

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE active),
			COUNT(*) FILTER (WHERE active AND error_count > 0)
		FROM urls
	`).Scan(&stats.Total, &stats.Active, &stats.WithErrors)
	if err != nil {
		return nil, fmt.Errorf("failed to get url stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT category, COUNT(*) FROM urls WHERE active GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to get url categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan url category: %w", err)
		}
		stats.ByCategory[category] = count
	}
	return stats, rows.Err()
}

func scanURL(row pgx.Row) (*types.TargetURL, error) {
	var u types.TargetURL
	if err := row.Scan(&u.URL, &u.Name, &u.Category, &u.Active, &u.LastScraped,
		&u.ErrorCount, &u.LastError, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan url: %w", err)
	}
	return &u, nil
}

func applyURLResults(ctx context.Context, tx pgx.Tx, results []types.URLResult) error {
	for _, r := range results {
		var err error
		if r.Failed() {
			_, err = tx.Exec(ctx, `
				UPDATE urls SET error_count = error_count + 1, last_error = $1
				WHERE url = $2
			`, r.Error, r.URL)
		} else {
			_, err = tx.Exec(ctx, `
				UPDATE urls SET last_scraped = $1, error_count = 0, last_error = ''
				WHERE url = $2
			`, r.ScrapedAt, r.URL)
		}
		if err != nil {
			return fmt.Errorf("failed to update url %s: %w", r.URL, err)
		}
	}
	return nil
}
