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

const listingColumns = `id, source_url, fields, raw_data, first_seen_run, last_seen_run, status, missed_runs`

// ListListings returns listings matching filter ordered by id.
func (s *PostgresStorage) ListListings(ctx context.Context, filter types.ListingFilter) ([]*types.Listing, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.SourceURL != "" {
		where = append(where, "source_url = "+arg(filter.SourceURL))
	}
	if filter.Lake != "" {
		where = append(where, "lake ILIKE "+arg("%"+filter.Lake+"%"))
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []*types.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// GetListing returns one listing with its full history.
func (s *PostgresStorage) GetListing(ctx context.Context, id string) (*types.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("listing %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT run_id, kind, diff FROM listing_history
		WHERE listing_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get history for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry types.HistoryEntry
		var kind, diff string
		if err := rows.Scan(&entry.RunID, &kind, &diff); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entry.Kind = types.HistoryKind(kind)
		if entry.Diff, err = storage.DecodeDiff(diff); err != nil {
			return nil, err
		}
		l.History = append(l.History, entry)
	}
	return l, rows.Err()
}

// ListBlogPosts returns posts first seen after sinceRun.
func (s *PostgresStorage) ListBlogPosts(ctx context.Context, sinceRun int64) ([]*types.BlogPost, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_url, post_url, title, published, first_seen_run, first_seen_at
		FROM blog_posts WHERE first_seen_run > $1
		ORDER BY first_seen_run, id
	`, sinceRun)
	if err != nil {
		return nil, fmt.Errorf("failed to list blog posts: %w", err)
	}
	defer rows.Close()

	var posts []*types.BlogPost
	for rows.Next() {
		var p types.BlogPost
		if err := rows.Scan(&p.ID, &p.SourceURL, &p.PostURL, &p.Title, &p.Published,
			&p.FirstSeenRun, &p.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan blog post: %w", err)
		}
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

func scanListing(row pgx.Row) (*types.Listing, error) {
	var l types.Listing
	var fields, raw, status string
	if err := row.Scan(&l.ID, &l.SourceURL, &fields, &raw, &l.FirstSeenRun,
		&l.LastSeenRun, &status, &l.MissedRuns); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan listing: %w", err)
	}
	l.Status = types.ListingStatus(status)

	var err error
	if l.Fields, err = storage.DecodeFields(fields); err != nil {
		return nil, fmt.Errorf("listing %s: %w", l.ID, err)
	}
	if l.Raw, err = storage.DecodeRaw(raw); err != nil {
		return nil, fmt.Errorf("listing %s: %w", l.ID, err)
	}
	return &l, nil
}

func upsertListing(ctx context.Context, tx pgx.Tx, l *types.Listing, updatedAt time.Time) error {
	fields, err := storage.EncodeFields(l.Fields)
	if err != nil {
		return err
	}
	raw, err := storage.EncodeRaw(l.Raw)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO listings (
			id, source_url, fields, raw_data, address, price, lake,
			first_seen_run, last_seen_run, status, missed_runs, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			fields = EXCLUDED.fields,
			raw_data = EXCLUDED.raw_data,
			address = EXCLUDED.address,
			price = EXCLUDED.price,
			lake = EXCLUDED.lake,
			last_seen_run = EXCLUDED.last_seen_run,
			status = EXCLUDED.status,
			missed_runs = EXCLUDED.missed_runs,
			updated_at = EXCLUDED.updated_at
	`,
		l.ID, l.SourceURL, fields, raw, l.Fields.Address, l.Fields.Price, l.Fields.Lake,
		l.FirstSeenRun, l.LastSeenRun, string(l.Status), l.MissedRuns, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing %s: %w", l.ID, err)
	}
	return nil
}
