package postgres

const schema = `
-- Target URLs scraped every run
CREATE TABLE IF NOT EXISTS urls (
    url TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT 'broker',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    last_scraped TIMESTAMPTZ,
    error_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_urls_active ON urls(active);

-- Scrape runs (append-only audit trail)
CREATE TABLE IF NOT EXISTS scrape_runs (
    id BIGINT PRIMARY KEY,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
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
    price BIGINT,
    lake TEXT,
    first_seen_run BIGINT NOT NULL,
    last_seen_run BIGINT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('active', 'exclusive', 'delisted')),
    missed_runs INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_listings_source ON listings(source_url);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
CREATE INDEX IF NOT EXISTS idx_listings_first_seen ON listings(first_seen_run);

-- Listing history: one row per transition
CREATE TABLE IF NOT EXISTS listing_history (
    id BIGSERIAL PRIMARY KEY,
    listing_id TEXT NOT NULL REFERENCES listings(id),
    run_id BIGINT NOT NULL REFERENCES scrape_runs(id),
    kind TEXT NOT NULL,
    diff TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_listing_history_listing ON listing_history(listing_id);

-- Blog posts keyed by canonical id
CREATE TABLE IF NOT EXISTS blog_posts (
    id TEXT PRIMARY KEY,
    source_url TEXT NOT NULL,
    post_url TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    published TEXT NOT NULL DEFAULT '',
    first_seen_run BIGINT NOT NULL,
    first_seen_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blog_posts_first_seen ON blog_posts(first_seen_run);

-- Key/value metadata (normalizer version, schema version)
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
