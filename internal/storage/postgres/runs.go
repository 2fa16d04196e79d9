package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

const runColumns = `id, started_at, finished_at, mode, status, input_url_count, failed_url_count,
	new_count, updated_count, unchanged_count, delisted_count, relisted_count, exclusive_count,
	new_blog_post_count, low_confidence_count, error`

// NextRunID returns one more than the highest run id.
func (s *PostgresStorage) NextRunID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM scrape_runs`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to query max run id: %w", err)
	}
	return maxID + 1, nil
}

// GetRun returns one run.
func (s *PostgresStorage) GetRun(ctx context.Context, id int64) (*types.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM scrape_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, storage.ErrNotFound)
	}
	return r, err
}

// LatestRun returns the most recent run with status ("" for any).
func (s *PostgresStorage) LatestRun(ctx context.Context, status types.RunStatus) (*types.Run, error) {
	return s.PreviousRun(ctx, 0, status)
}

// PreviousRun returns the most recent run with status before run id before
// (0 for no bound).
func (s *PostgresStorage) PreviousRun(ctx context.Context, before int64, status types.RunStatus) (*types.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM scrape_runs
		WHERE ($1 = 0 OR id < $1) AND ($2 = '' OR status = $2)
		ORDER BY id DESC LIMIT 1
	`, before, string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		label := string(status)
		if label == "" {
			label = "recorded"
		}
		return nil, fmt.Errorf("no %s run: %w", label, storage.ErrNotFound)
	}
	return r, err
}

// ListRuns returns runs newest first. limit <= 0 returns all.
func (s *PostgresStorage) ListRuns(ctx context.Context, limit int) ([]*types.Run, error) {
	query := `SELECT ` + runColumns + ` FROM scrape_runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecordRun writes a run row on its own.
func (s *PostgresStorage) RecordRun(ctx context.Context, run *types.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertRun(ctx, tx, run); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplyRun writes a whole run in one transaction.
func (s *PostgresStorage) ApplyRun(ctx context.Context, cs *storage.ChangeSet) error {
	if err := cs.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertRun(ctx, tx, &cs.Run); err != nil {
		return err
	}

	for _, l := range cs.Listings {
		if err := upsertListing(ctx, tx, l, cs.Run.FinishedAt); err != nil {
			return err
		}
	}

	for _, h := range cs.History {
		diff, err := storage.EncodeDiff(h.Entry.Diff)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO listing_history (listing_id, run_id, kind, diff)
			VALUES ($1, $2, $3, $4)
		`, h.ListingID, h.Entry.RunID, string(h.Entry.Kind), diff); err != nil {
			return fmt.Errorf("failed to append history for %s: %w", h.ListingID, err)
		}
	}

	for _, p := range cs.BlogPosts {
		if _, err := tx.Exec(ctx, `
			INSERT INTO blog_posts (id, source_url, post_url, title, published, first_seen_run, first_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, p.ID, p.SourceURL, p.PostURL, p.Title, p.Published, p.FirstSeenRun, p.FirstSeenAt); err != nil {
			return fmt.Errorf("failed to insert blog post %s: %w", p.ID, err)
		}
	}

	if err := applyURLResults(ctx, tx, cs.URLResults); err != nil {
		return err
	}

	for k, v := range cs.Meta {
		if _, err := tx.Exec(ctx, `
			INSERT INTO meta (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
		`, k, v); err != nil {
			return fmt.Errorf("failed to set meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertRun(ctx context.Context, tx pgx.Tx, r *types.Run) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO scrape_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		r.ID, r.StartedAt, r.FinishedAt, string(r.Mode), string(r.Status),
		r.InputURLCount, r.FailedURLCount, r.NewCount, r.UpdatedCount, r.UnchangedCount,
		r.DelistedCount, r.RelistedCount, r.ExclusiveCount, r.NewBlogPostCount,
		r.LowConfidenceCount, r.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %d: %w", r.ID, err)
	}
	return nil
}

func scanRun(row pgx.Row) (*types.Run, error) {
	var r types.Run
	var mode, status string
	if err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &mode, &status,
		&r.InputURLCount, &r.FailedURLCount, &r.NewCount, &r.UpdatedCount, &r.UnchangedCount,
		&r.DelistedCount, &r.RelistedCount, &r.ExclusiveCount, &r.NewBlogPostCount,
		&r.LowConfidenceCount, &r.Error); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	r.Mode = types.RunMode(mode)
	r.Status = types.RunStatus(status)
	return &r, nil
}
