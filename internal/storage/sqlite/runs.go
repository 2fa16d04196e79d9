package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

const runColumns = `id, started_at, finished_at, mode, status, input_url_count, failed_url_count,
	new_count, updated_count, unchanged_count, delisted_count, relisted_count, exclusive_count,
	new_blog_post_count, low_confidence_count, error`

// NextRunID returns one more than the highest run id.
func (s *SQLiteStorage) NextRunID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM scrape_runs`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to query max run id: %w", err)
	}
	return maxID + 1, nil
}

// GetRun returns one run.
func (s *SQLiteStorage) GetRun(ctx context.Context, id int64) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM scrape_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, storage.ErrNotFound)
	}
	return r, err
}

// LatestRun returns the most recent run with status ("" for any).
func (s *SQLiteStorage) LatestRun(ctx context.Context, status types.RunStatus) (*types.Run, error) {
	return s.PreviousRun(ctx, 0, status)
}

// PreviousRun returns the most recent run with status before run id before
// (0 for no bound).
func (s *SQLiteStorage) PreviousRun(ctx context.Context, before int64, status types.RunStatus) (*types.Run, error) {
	query := `SELECT ` + runColumns + ` FROM scrape_runs WHERE 1 = 1`
	var args []any
	if before > 0 {
		query += ` AND id < ?`
		args = append(args, before)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id DESC LIMIT 1`

	r, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no %s run: %w", statusLabel(status), storage.ErrNotFound)
	}
	return r, err
}

// ListRuns returns runs newest first. limit <= 0 returns all.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]*types.Run, error) {
	query := `SELECT ` + runColumns + ` FROM scrape_runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// RecordRun writes a run row on its own. Used for failed runs, which carry
// no listing mutations.
func (s *SQLiteStorage) RecordRun(ctx context.Context, run *types.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return s.withTx(ctx, func(conn *sql.Conn) error {
		return insertRun(ctx, conn, run)
	})
}

// ApplyRun writes a whole run atomically: the run row, listing upserts,
// history, new blog posts, URL outcomes and meta.
func (s *SQLiteStorage) ApplyRun(ctx context.Context, cs *storage.ChangeSet) error {
	if err := cs.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return s.withTx(ctx, func(conn *sql.Conn) error {
		if err := insertRun(ctx, conn, &cs.Run); err != nil {
			return err
		}

		updatedAt := formatTime(cs.Run.FinishedAt)
		for _, l := range cs.Listings {
			if err := upsertListing(ctx, conn, l, updatedAt); err != nil {
				return err
			}
		}

		for _, h := range cs.History {
			diff, err := storage.EncodeDiff(h.Entry.Diff)
			if err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO listing_history (listing_id, run_id, kind, diff)
				VALUES (?, ?, ?, ?)
			`, h.ListingID, h.Entry.RunID, string(h.Entry.Kind), diff); err != nil {
				return fmt.Errorf("failed to append history for %s: %w", h.ListingID, err)
			}
		}

		for _, p := range cs.BlogPosts {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO blog_posts (id, source_url, post_url, title, published, first_seen_run, first_seen_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO NOTHING
			`, p.ID, p.SourceURL, p.PostURL, p.Title, p.Published, p.FirstSeenRun,
				formatTime(p.FirstSeenAt)); err != nil {
				return fmt.Errorf("failed to insert blog post %s: %w", p.ID, err)
			}
		}

		if err := applyURLResults(ctx, conn, cs.URLResults); err != nil {
			return err
		}

		for k, v := range cs.Meta {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO meta (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, k, v); err != nil {
				return fmt.Errorf("failed to set meta %s: %w", k, err)
			}
		}
		return nil
	})
}

func insertRun(ctx context.Context, conn *sql.Conn, r *types.Run) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO scrape_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), string(r.Mode), string(r.Status),
		r.InputURLCount, r.FailedURLCount, r.NewCount, r.UpdatedCount, r.UnchangedCount,
		r.DelistedCount, r.RelistedCount, r.ExclusiveCount, r.NewBlogPostCount,
		r.LowConfidenceCount, r.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %d: %w", r.ID, err)
	}
	return nil
}

func scanRun(row rowScanner) (*types.Run, error) {
	var r types.Run
	var startedAt, finishedAt, mode, status string
	if err := row.Scan(&r.ID, &startedAt, &finishedAt, &mode, &status,
		&r.InputURLCount, &r.FailedURLCount, &r.NewCount, &r.UpdatedCount, &r.UnchangedCount,
		&r.DelistedCount, &r.RelistedCount, &r.ExclusiveCount, &r.NewBlogPostCount,
		&r.LowConfidenceCount, &r.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	r.Mode = types.RunMode(mode)
	r.Status = types.RunStatus(status)

	var err error
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func statusLabel(status types.RunStatus) string {
	if status == "" {
		return "recorded"
	}
	return string(status)
}
