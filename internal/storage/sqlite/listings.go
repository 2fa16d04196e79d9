package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

const listingColumns = `id, source_url, fields, raw_data, first_seen_run, last_seen_run, status, missed_runs`

// ListListings returns listings matching filter ordered by id.
func (s *SQLiteStorage) ListListings(ctx context.Context, filter types.ListingFilter) ([]*types.Listing, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.SourceURL != "" {
		where = append(where, "source_url = ?")
		args = append(args, filter.SourceURL)
	}
	if filter.Lake != "" {
		where = append(where, "lower(lake) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Lake)+"%")
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLiteStorage) GetListing(ctx context.Context, id string) (*types.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, kind, diff FROM listing_history
		WHERE listing_id = ? ORDER BY id
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
func (s *SQLiteStorage) ListBlogPosts(ctx context.Context, sinceRun int64) ([]*types.BlogPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_url, post_url, title, published, first_seen_run, first_seen_at
		FROM blog_posts WHERE first_seen_run > ?
		ORDER BY first_seen_run, id
	`, sinceRun)
	if err != nil {
		return nil, fmt.Errorf("failed to list blog posts: %w", err)
	}
	defer rows.Close()

	var posts []*types.BlogPost
	for rows.Next() {
		var p types.BlogPost
		var firstSeenAt string
		if err := rows.Scan(&p.ID, &p.SourceURL, &p.PostURL, &p.Title, &p.Published,
			&p.FirstSeenRun, &firstSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan blog post: %w", err)
		}
		if p.FirstSeenAt, err = parseTime(firstSeenAt); err != nil {
			return nil, err
		}
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

func scanListing(row rowScanner) (*types.Listing, error) {
	var l types.Listing
	var fields, raw, status string
	if err := row.Scan(&l.ID, &l.SourceURL, &fields, &raw, &l.FirstSeenRun,
		&l.LastSeenRun, &status, &l.MissedRuns); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func upsertListing(ctx context.Context, conn *sql.Conn, l *types.Listing, updatedAt string) error {
	fields, err := storage.EncodeFields(l.Fields)
	if err != nil {
		return err
	}
	raw, err := storage.EncodeRaw(l.Raw)
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO listings (
			id, source_url, fields, raw_data, address, price, lake,
			first_seen_run, last_seen_run, status, missed_runs, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_url = excluded.source_url,
			fields = excluded.fields,
			raw_data = excluded.raw_data,
			address = excluded.address,
			price = excluded.price,
			lake = excluded.lake,
			last_seen_run = excluded.last_seen_run,
			status = excluded.status,
			missed_runs = excluded.missed_runs,
			updated_at = excluded.updated_at
	`,
		l.ID, l.SourceURL, fields, raw, nullString(l.Fields.Address), nullInt64(l.Fields.Price),
		nullString(l.Fields.Lake), l.FirstSeenRun, l.LastSeenRun, string(l.Status), l.MissedRuns, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing %s: %w", l.ID, err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
