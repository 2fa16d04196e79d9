// Package pipeline runs one scrape end to end: fetch and extract every
// active URL concurrently, then normalize, resolve and classify the batch
// against the ledger snapshot and commit it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/muskokacottagefinder/mcf/internal/classify"
	"github.com/muskokacottagefinder/mcf/internal/extract"
	"github.com/muskokacottagefinder/mcf/internal/fetch"
	"github.com/muskokacottagefinder/mcf/internal/fingerprint"
	"github.com/muskokacottagefinder/mcf/internal/ledger"
	"github.com/muskokacottagefinder/mcf/internal/match"
	"github.com/muskokacottagefinder/mcf/internal/normalize"
	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// ErrNoURLs is returned when there are no active target URLs to scrape.
var ErrNoURLs = errors.New("no active urls; add some with 'mcf urls add' or 'mcf urls import'")

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Store      storage.Store
	Ledger     *ledger.Ledger
	Normalizer *normalize.Normalizer
	Resolver   *match.Resolver
	Fetcher    fetch.Fetcher
	Extractor  extract.Extractor
}

// RunOptions select what one run does.
type RunOptions struct {
	Mode    types.RunMode
	MaxURLs int // 0 = all
	NoBlogs bool
}

// Pipeline runs scrapes.
type Pipeline struct {
	deps Deps
	cfg  Config
}

// New creates a Pipeline.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Store == nil || deps.Ledger == nil || deps.Normalizer == nil ||
		deps.Resolver == nil || deps.Fetcher == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("pipeline requires store, ledger, normalizer, resolver, fetcher and extractor")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	return &Pipeline{deps: deps, cfg: cfg}, nil
}

// pageResult is what harvesting one URL produced.
type pageResult struct {
	url     string
	records []types.RawRecord
	posts   []types.RawBlogPost
	result  types.URLResult
}

// Run executes one scrape. Lock contention returns an error wrapping
// storage.ErrRunInProgress before anything is fetched.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*ledger.RunSummary, error) {
	if opts.Mode == "" {
		opts.Mode = types.ModeFull
	}

	targets, err := p.targets(ctx, opts)
	if err != nil {
		return nil, err
	}

	session, err := p.deps.Ledger.Begin(ctx, opts.Mode)
	if err != nil {
		return nil, err
	}

	log.Printf("[PIPELINE] Run %d: scraping %d urls (concurrency=%d, blogs=%v)",
		session.RunID(), len(targets), p.cfg.Concurrency, !opts.NoBlogs)

	pages := p.harvest(ctx, targets, opts)
	if err := ctx.Err(); err != nil {
		_ = session.Abort(ctx, fmt.Errorf("run interrupted: %w", err))
		return nil, err
	}

	batch, err := p.resolve(session, pages)
	if err != nil {
		_ = session.Abort(ctx, err)
		return nil, err
	}
	batch.InputURLCount = len(targets)

	return session.Commit(ctx, batch)
}

// targets returns the active URLs this run scrapes, in stored order.
func (p *Pipeline) targets(ctx context.Context, opts RunOptions) ([]*types.TargetURL, error) {
	urls, err := p.deps.Store.ListURLs(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list urls: %w", err)
	}
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	if opts.Mode == types.ModeTest && len(urls) > p.cfg.TestURLCount {
		urls = urls[:p.cfg.TestURLCount]
	}
	if opts.MaxURLs > 0 && len(urls) > opts.MaxURLs {
		urls = urls[:opts.MaxURLs]
	}
	return urls, nil
}

// harvest fetches and extracts every target. Failures are recorded per URL
// and never stop the other workers; results keep the targets' order.
func (p *Pipeline) harvest(ctx context.Context, targets []*types.TargetURL, opts RunOptions) []pageResult {
	results := make([]pageResult, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = p.harvestOne(gctx, t.URL, opts)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pipeline) harvestOne(ctx context.Context, pageURL string, opts RunOptions) pageResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.URLTimeout)
	defer cancel()

	res := pageResult{url: pageURL}
	fail := func(err error) pageResult {
		log.Printf("[PIPELINE] %s failed: %v", pageURL, err)
		res.result = types.URLResult{URL: pageURL, ScrapedAt: time.Now().UTC(), Error: err.Error()}
		return res
	}

	page, err := p.deps.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return fail(err)
	}

	records, err := p.deps.Extractor.ExtractListings(ctx, page)
	if err != nil {
		return fail(fmt.Errorf("extraction failed: %w", err))
	}
	res.records = records

	if !opts.NoBlogs {
		posts, err := p.deps.Extractor.ExtractBlogPosts(ctx, page)
		if err != nil {
			// Listings were extracted, so the page still counts as scraped.
			log.Printf("[PIPELINE] warning: blog extraction failed for %s: %v", pageURL, err)
		}
		res.posts = posts
	}

	log.Printf("[PIPELINE] %s: %d listings, %d blog posts", pageURL, len(res.records), len(res.posts))
	res.result = types.URLResult{URL: pageURL, ScrapedAt: time.Now().UTC()}
	return res
}

// ResolveStats counts what happened to the batch's records before commit.
type ResolveStats struct {
	Records       int
	NotComparable int
	TooSparse     int
	Duplicates    int
}

// resolve normalizes, matches and classifies the harvested records in
// order. Records are resolved one at a time against the snapshot plus the
// records already accepted as new this run, so two records for the same
// cottage in one batch become one listing.
func (p *Pipeline) resolve(session *ledger.Session, pages []pageResult) (ledger.Batch, error) {
	var batch ledger.Batch
	var stats ResolveStats

	n := p.deps.Normalizer
	n.ResetStats()

	idx := match.IndexListings(session.Listings())
	pending := make(map[string]bool)
	matched := make(map[string]bool)

	for _, page := range pages {
		batch.URLResults = append(batch.URLResults, page.result)
		batch.BlogPosts = append(batch.BlogPosts, page.posts...)

		for _, raw := range page.records {
			stats.Records++
			rec := n.Normalize(raw)
			fp := fingerprint.Build(rec)
			if !fp.Vector.Comparable() {
				stats.NotComparable++
				continue
			}
			if !p.deps.Resolver.Identifiable(fp) {
				stats.TooSparse++
				continue
			}

			res := p.deps.Resolver.Resolve(fp, idx.Candidates(fp))
			if res.Matched && (pending[res.ListingID] || matched[res.ListingID]) {
				stats.Duplicates++
				continue
			}

			var current *types.Listing
			if res.Matched {
				l, ok := session.Listing(res.ListingID)
				if !ok {
					return batch, fmt.Errorf("resolver matched unknown listing %s", res.ListingID)
				}
				current = l
			}

			c, err := classify.Classify(res, &rec, current)
			if err != nil {
				return batch, err
			}

			if c.Kind == classify.KindNew {
				id := fmt.Sprintf("pending:%d", len(pending))
				pending[id] = true
				idx.Add(match.Candidate{
					Listing: &types.Listing{
						ID:           id,
						SourceURL:    rec.SourceURL,
						Fields:       rec.Fields,
						FirstSeenRun: session.RunID(),
						LastSeenRun:  session.RunID(),
					},
					Fingerprint: fp,
				})
			} else {
				matched[c.ListingID] = true
			}
			batch.Classifications = append(batch.Classifications, c)
		}
	}

	log.Printf("[PIPELINE] Resolved %d records: %d classified, %d not comparable, %d too sparse to identify, %d duplicates in batch",
		stats.Records, len(batch.Classifications), stats.NotComparable, stats.TooSparse, stats.Duplicates)
	log.Printf("[PIPELINE] Normalizer: %s", n.Stats())
	if u, ok := p.deps.Extractor.(extract.UsageReporter); ok {
		if usage := u.Usage(); usage.Calls > 0 {
			log.Printf("[PIPELINE] Model usage: %d calls, %d input / %d output tokens, $%.2f (%s)",
				usage.Calls, usage.InputTokens, usage.OutputTokens, usage.Cost, usage.Status)
		}
	}
	return batch, nil
}
