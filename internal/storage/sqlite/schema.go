package sqlite

import "github.com/muskokacottagefinder/mcf/internal/storage/migrations"

// schemaMigrations is the SQLite schema history. Append new versions; never
// edit an applied one.
var schemaMigrations = []migrations.Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up:          initialSchema,
	},
	{
		Version:     2,
		Description: "index listings by price for the dashboard",
		Up:          `CREATE INDEX IF NOT EXISTS idx_listings_price ON listings(price DESC)`,
		Down:        `DROP INDEX IF EXISTS idx_listings_price`,
	},
}

const initialSchema = `
-- Target URLs scraped every run
CREATE TABLE IF NOT EXISTS urls (
    url TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT 'broker',
    active INTEGER NOT NULL DEFAULT 1,
    last_scraped TEXT,
    error_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_urls_active ON urls(active);

-- Scrape runs (append-only audit trail)
CREATE TABLE IF NOT EXISTS scrape_runs (
    id INTEGER PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    mode TEXT NOT NULL DEFAULT 'full',
    status TEXT NOT NULL CHECK(status IN ('completed', 'failed')),
    input_url_count INTEGER NOT NULL DEFAULT 0,
    failed_url_count INTEGER NOT NULL DEFAULT 0,
    new_count INTEGER NOT NULL DEFAULT 0,
    updated_count INTEGER NOT NULL DEFAULT 0,
    unchanged_count INTEGER NOT NULL DEFAULT 0,
    delisted_count INTEGER NOT NULL DEFAULT 0,
    relisted_count INTEGER NOT NULL DEFAULT 0,
    exclusive_count INTEGER NOT NULL DEFAULT 0,
    new_blog_post_count INTEGER NOT NULL DEFAULT 0,
    low_confidence_count INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_scrape_runs_status ON scrape_runs(status);

-- Listings (never deleted)
CREATE TABLE IF NOT EXISTS listings (
    id TEXT PRIMARY KEY,
    source_url TEXT NOT NULL,
    fields TEXT NOT NULL,
    raw_data TEXT NOT NULL DEFAULT '',
    address TEXT,
    price INTEGER,
    lake TEXT,
    first_seen_run INTEGER NOT NULL,
    last_seen_run INTEGER NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('active', 'exclusive', 'delisted')),
    missed_runs INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_source ON listings(source_url);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
CREATE INDEX IF NOT EXISTS idx_listings_first_seen ON listings(first_seen_run);

-- Listing history: one row per transition
CREATE TABLE IF NOT EXISTS listing_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    listing_id TEXT NOT NULL,
    run_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    diff TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (listing_id) REFERENCES listings(id),
    FOREIGN KEY (run_id) REFERENCES scrape_runs(id)
);

CREATE INDEX IF NOT EXISTS idx_listing_history_listing ON listing_history(listing_id);

-- Blog posts keyed by canonical id
CREATE TABLE IF NOT EXISTS blog_posts (
    id TEXT PRIMARY KEY,
    source_url TEXT NOT NULL,
    post_url TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    published TEXT NOT NULL DEFAULT '',
    first_seen_run INTEGER NOT NULL,
    first_seen_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blog_posts_first_seen ON blog_posts(first_seen_run);

-- Key/value metadata (normalizer version)
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
