// Package storage defines the persistent store behind the run ledger: the
// target URL list, listings with their history, blog posts, scrape runs and
// a small meta table. Backends live in storage/sqlite and storage/postgres.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/muskokacottagefinder/mcf/internal/types"
)

var (
	// ErrRunInProgress is returned when another run holds the store's
	// single-writer lock.
	ErrRunInProgress = errors.New("run already in progress")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// Meta keys
const (
	MetaNormalizerVersion = "normalizer_version"
	MetaSchemaVersion     = "schema_version"
)

// Lock is a held single-writer lock. Release is idempotent.
type Lock interface {
	Release() error
}

// HistoryAppend is one history entry to append to a listing.
type HistoryAppend struct {
	ListingID string
	Entry     types.HistoryEntry
}

// ChangeSet is everything one run writes. ApplyRun lands all of it in a
// single transaction or none of it.
type ChangeSet struct {
	Run        types.Run
	Listings   []*types.Listing // upserted by ID; History is ignored
	History    []HistoryAppend
	BlogPosts  []types.BlogPost // inserted; existing IDs are left alone
	URLResults []types.URLResult
	Meta       map[string]string
}

// Validate checks the change set before it is written
func (cs *ChangeSet) Validate() error {
	if err := cs.Run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	for _, l := range cs.Listings {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("invalid listing %s: %w", l.ID, err)
		}
	}
	for _, h := range cs.History {
		if h.ListingID == "" {
			return fmt.Errorf("history entry without listing id")
		}
		if h.Entry.RunID != cs.Run.ID {
			return fmt.Errorf("history entry for run %d in change set for run %d", h.Entry.RunID, cs.Run.ID)
		}
	}
	for _, p := range cs.BlogPosts {
		if p.ID == "" {
			return fmt.Errorf("blog post without id")
		}
	}
	return nil
}

// Store is the persistence interface for the ledger, projector, CLI and web
// dashboard.
type Store interface {
	// Target URLs
	AddURL(ctx context.Context, u *types.TargetURL) error
	RemoveURL(ctx context.Context, url string) error
	GetURL(ctx context.Context, url string) (*types.TargetURL, error)
	ListURLs(ctx context.Context, activeOnly bool) ([]*types.TargetURL, error)
	GetURLStats(ctx context.Context) (*types.URLStats, error)

	// Listings and blog posts
	ListListings(ctx context.Context, filter types.ListingFilter) ([]*types.Listing, error)
	GetListing(ctx context.Context, id string) (*types.Listing, error)
	ListBlogPosts(ctx context.Context, sinceRun int64) ([]*types.BlogPost, error)

	// Runs
	NextRunID(ctx context.Context) (int64, error)
	GetRun(ctx context.Context, id int64) (*types.Run, error)
	LatestRun(ctx context.Context, status types.RunStatus) (*types.Run, error)
	PreviousRun(ctx context.Context, before int64, status types.RunStatus) (*types.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*types.Run, error)
	ApplyRun(ctx context.Context, cs *ChangeSet) error
	RecordRun(ctx context.Context, run *types.Run) error

	// Single-writer lock held for the duration of a run
	AcquireRunLock(ctx context.Context, holder string) (Lock, error)

	// Meta
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// Driver names
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds database configuration
type Config struct {
	// Driver is "sqlite" (default) or "postgres"
	Driver string `yaml:"driver"`

	// Path is the SQLite database file path
	// Default: "data/mcf.db"
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string
	DSN string `yaml:"dsn"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Driver: DriverSQLite,
		Path:   "data/mcf.db",
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("database path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("database dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q (want %s or %s)", c.Driver, DriverSQLite, DriverPostgres)
	}
	return nil
}
