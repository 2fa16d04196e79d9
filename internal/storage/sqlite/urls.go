package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// AddURL inserts a target URL. Adding a URL that already exists reactivates
// it and updates its name and category when given.
func (s *SQLiteStorage) AddURL(ctx context.Context, u *types.TargetURL) error {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO urls (url, name, category, active, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(url) DO UPDATE SET
			active = 1,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE urls.name END,
			category = excluded.category
	`, u.URL, u.Name, u.Category, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add url %s: %w", u.URL, err)
	}
	return nil
}

// RemoveURL deactivates a URL. History referring to it is kept.
func (s *SQLiteStorage) RemoveURL(ctx context.Context, url string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE urls SET active = 0 WHERE url = ?`, strings.TrimSpace(url))
	if err != nil {
		return fmt.Errorf("failed to remove url %s: %w", url, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("url %s: %w", url, storage.ErrNotFound)
	}
	return nil
}

const urlColumns = `url, name, category, active, last_scraped, error_count, last_error, created_at`

// GetURL returns one target URL.
func (s *SQLiteStorage) GetURL(ctx context.Context, url string) (*types.TargetURL, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+urlColumns+` FROM urls WHERE url = ?`, url)
	u, err := scanURL(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("url %s: %w", url, storage.ErrNotFound)
	}
	return u, err
}

// ListURLs returns target URLs in insertion order.
func (s *SQLiteStorage) ListURLs(ctx context.Context, activeOnly bool) ([]*types.TargetURL, error) {
	query := `SELECT ` + urlColumns + ` FROM urls`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at, url`

	rows, err := s.db.QueryContext(ctx, query)
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

// GetURLStats summarizes the URL list. Error and category counts cover
// active URLs only.
func (s *SQLiteStorage) GetURLStats(ctx context.Context) (*types.URLStats, error) {
	stats := &types.URLStats{ByCategory: make(map[string]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN active = 1 AND error_count > 0 THEN 1 ELSE 0 END), 0)
		FROM urls
	`).Scan(&stats.Total, &stats.Active, &stats.WithErrors)
	if err != nil {
		return nil, fmt.Errorf("failed to get url stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM urls WHERE active = 1 GROUP BY category`)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanURL(row rowScanner) (*types.TargetURL, error) {
	var u types.TargetURL
	var active int
	var lastScraped sql.NullString
	var createdAt string
	if err := row.Scan(&u.URL, &u.Name, &u.Category, &active, &lastScraped,
		&u.ErrorCount, &u.LastError, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan url: %w", err)
	}
	u.Active = active == 1

	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if lastScraped.Valid {
		t, err := parseTime(lastScraped.String)
		if err != nil {
			return nil, err
		}
		u.LastScraped = &t
	}
	return &u, nil
}

// applyURLResults records per-URL scrape outcomes inside a run's transaction.
func applyURLResults(ctx context.Context, conn *sql.Conn, results []types.URLResult) error {
	for _, r := range results {
		var err error
		if r.Failed() {
			_, err = conn.ExecContext(ctx, `
				UPDATE urls SET error_count = error_count + 1, last_error = ?
				WHERE url = ?
			`, r.Error, r.URL)
		} else {
			_, err = conn.ExecContext(ctx, `
				UPDATE urls SET last_scraped = ?, error_count = 0, last_error = ''
				WHERE url = ?
			`, formatTime(r.ScrapedAt), r.URL)
		}
		if err != nil {
			return fmt.Errorf("failed to update url %s: %w", r.URL, err)
		}
	}
	return nil
}
