// Package ledger owns listing state across runs. A run opens a Session,
// which holds the store's single-writer lock and a snapshot of every
// listing; the pipeline resolves and classifies records against that
// snapshot, and Commit writes every mutation plus the run row in one
// transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/muskokacottagefinder/mcf/internal/classify"
	"github.com/muskokacottagefinder/mcf/internal/normalize"
	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// Ledger opens run sessions against a store.
type Ledger struct {
	store      storage.Store
	normalizer *normalize.Normalizer
	cfg        Config
	now        func() time.Time
}

// New creates a Ledger. normalizer is used to re-normalize stored listings
// when the stored normalizer version is older than normalize.Version.
func New(store storage.Store, normalizer *normalize.Normalizer, cfg Config) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger requires a store")
	}
	if normalizer == nil {
		return nil, fmt.Errorf("ledger requires a normalizer")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}
	return &Ledger{
		store:      store,
		normalizer: normalizer,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock replaces the clock used for run timestamps.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Config returns the ledger configuration.
func (l *Ledger) Config() Config {
	return l.cfg
}

// Session is one run in progress. It is not safe for concurrent use.
type Session struct {
	ledger    *Ledger
	lock      storage.Lock
	runID     int64
	mode      types.RunMode
	startedAt time.Time

	listings     []*types.Listing
	byID         map[string]*types.Listing
	renormalized map[string][]types.FieldChange
	blogIDs      map[string]bool

	done bool
}

// Begin acquires the run lock, allocates the run ID and loads the snapshot.
// Lock contention returns an error wrapping storage.ErrRunInProgress without
// touching the store.
func (l *Ledger) Begin(ctx context.Context, mode types.RunMode) (*Session, error) {
	hostname, _ := os.Hostname()
	holder := fmt.Sprintf("mcf run (pid %d on %s)", os.Getpid(), hostname)

	lock, err := l.store.AcquireRunLock(ctx, holder)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ledger:       l,
		lock:         lock,
		mode:         mode,
		startedAt:    l.now(),
		byID:         make(map[string]*types.Listing),
		renormalized: make(map[string][]types.FieldChange),
		blogIDs:      make(map[string]bool),
	}
	if err := s.load(ctx); err != nil {
		_ = lock.Release()
		return nil, err
	}

	log.Printf("[LEDGER] Run %d started (%s): %d listings, %d known blog posts",
		s.runID, mode, len(s.listings), len(s.blogIDs))
	return s, nil
}

func (s *Session) load(ctx context.Context) error {
	store := s.ledger.store

	runID, err := store.NextRunID(ctx)
	if err != nil {
		return fmt.Errorf("failed to allocate run id: %w", err)
	}
	s.runID = runID

	stored, err := store.GetMeta(ctx, storage.MetaNormalizerVersion)
	if err != nil {
		return fmt.Errorf("failed to read normalizer version: %w", err)
	}
	migrate, err := checkVersion(stored, normalize.Version)
	if err != nil {
		return err
	}

	listings, err := store.ListListings(ctx, types.ListingFilter{})
	if err != nil {
		return fmt.Errorf("failed to load listings: %w", err)
	}
	for _, l := range listings {
		if migrate && l.Raw != nil {
			rec := s.ledger.normalizer.Normalize(*l.Raw)
			if diff := types.DiffFields(l.Fields, rec.Fields); len(diff) > 0 {
				l.Fields = rec.Fields
				if l.Status != types.StatusDelisted {
					l.Status = types.StatusFor(l.Fields)
				}
				s.renormalized[l.ID] = diff
			}
		}
		s.listings = append(s.listings, l)
		s.byID[l.ID] = l
	}
	if migrate {
		log.Printf("[LEDGER] Normalizer upgraded %s -> %s: re-normalized %d of %d listings",
			stored, normalize.Version, len(s.renormalized), len(listings))
	}

	posts, err := store.ListBlogPosts(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to load blog posts: %w", err)
	}
	for _, p := range posts {
		s.blogIDs[p.ID] = true
	}
	return nil
}

// checkVersion compares the stored normalizer version with the running one.
// It reports whether stored listings must be re-normalized, and fails when
// the store was written by a newer normalizer.
func checkVersion(stored, current string) (bool, error) {
	if stored == "" {
		return false, nil
	}
	if !semver.IsValid(stored) {
		return false, fmt.Errorf("stored normalizer version %q is not a valid semantic version", stored)
	}
	switch c := semver.Compare(stored, current); {
	case c > 0:
		return false, fmt.Errorf("store was written by normalizer %s, newer than this binary's %s; upgrade mcf", stored, current)
	case c < 0:
		return true, nil
	}
	return false, nil
}

// RunID returns the ID allocated to this run.
func (s *Session) RunID() int64 { return s.runID }

// StartedAt returns when the session began.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Listings returns the snapshot loaded at Begin, ordered by ID.
func (s *Session) Listings() []*types.Listing { return s.listings }

// Listing returns one listing from the snapshot.
func (s *Session) Listing(id string) (*types.Listing, bool) {
	l, ok := s.byID[id]
	return l, ok
}

// Batch is everything a run produced, handed to Commit.
type Batch struct {
	Classifications []classify.Classification
	BlogPosts       []types.RawBlogPost

	// URLResults has one entry per attempted URL, successful or not.
	// Only listings whose source URL appears here take part in the sweep.
	URLResults    []types.URLResult
	InputURLCount int
}

// RunSummary is the outcome of a committed run.
type RunSummary struct {
	Run          types.Run
	New          []*types.Listing
	Updated      []*types.Listing
	Exclusive    []*types.Listing
	Relisted     []*types.Listing
	Delisted     []*types.Listing
	NewBlogPosts []types.BlogPost
	Failures     []types.URLResult
}

// Commit applies the batch and writes the run. The session is finished
// afterwards whether or not the commit succeeded.
func (s *Session) Commit(ctx context.Context, batch Batch) (*RunSummary, error) {
	if s.done {
		return nil, fmt.Errorf("run %d already finished", s.runID)
	}
	defer s.finish()

	cs, summary, err := s.plan(batch)
	if err != nil {
		s.recordFailure(ctx, batch, err)
		return nil, err
	}

	if err := s.ledger.store.ApplyRun(ctx, cs); err != nil {
		err = fmt.Errorf("failed to commit run %d: %w", s.runID, err)
		s.recordFailure(ctx, batch, err)
		return nil, err
	}

	r := summary.Run
	log.Printf("[LEDGER] Run %d committed: new=%d updated=%d unchanged=%d exclusive=%d relisted=%d delisted=%d blog=%d low_confidence=%d failed_urls=%d",
		r.ID, r.NewCount, r.UpdatedCount, r.UnchangedCount, r.ExclusiveCount, r.RelistedCount,
		r.DelistedCount, r.NewBlogPostCount, r.LowConfidenceCount, r.FailedURLCount)
	return summary, nil
}

// plan computes the change set without touching the store.
func (s *Session) plan(batch Batch) (*storage.ChangeSet, *RunSummary, error) {
	now := s.ledger.now()
	if now.Before(s.startedAt) {
		now = s.startedAt
	}

	run := types.Run{
		ID:            s.runID,
		StartedAt:     s.startedAt,
		FinishedAt:    now,
		Mode:          s.mode,
		Status:        types.RunCompleted,
		InputURLCount: batch.InputURLCount,
	}
	summary := &RunSummary{}
	for _, r := range batch.URLResults {
		if r.Failed() {
			run.FailedURLCount++
			summary.Failures = append(summary.Failures, r)
		}
	}
	if run.InputURLCount < len(batch.URLResults) {
		run.InputURLCount = len(batch.URLResults)
	}

	var history []storage.HistoryAppend
	appendHistory := func(id string, kind types.HistoryKind, diff []types.FieldChange) {
		history = append(history, storage.HistoryAppend{
			ListingID: id,
			Entry:     types.HistoryEntry{RunID: s.runID, Kind: kind, Diff: diff},
		})
	}

	// Re-normalization happened before anything this run observed, so its
	// diff comes first in each listing's history.
	renormalizedIDs := make([]string, 0, len(s.renormalized))
	for id := range s.renormalized {
		renormalizedIDs = append(renormalizedIDs, id)
	}
	sort.Strings(renormalizedIDs)
	for _, id := range renormalizedIDs {
		appendHistory(id, types.HistoryRenormalized, s.renormalized[id])
	}

	var created []*types.Listing
	touched := make(map[string]*types.Listing)

	for _, c := range batch.Classifications {
		if err := c.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid classification: %w", err)
		}
		if c.LowConfidence {
			run.LowConfidenceCount++
		}

		if c.Kind == classify.KindNew {
			l := &types.Listing{
				ID:           uuid.NewString(),
				SourceURL:    c.Record.SourceURL,
				Fields:       c.Record.Fields,
				Raw:          c.Record.Raw,
				FirstSeenRun: s.runID,
				LastSeenRun:  s.runID,
				Status:       types.StatusFor(c.Record.Fields),
			}
			created = append(created, l)
			appendHistory(l.ID, types.HistoryNew, nil)
			summary.New = append(summary.New, l)
			run.NewCount++
			continue
		}

		current, ok := s.byID[c.ListingID]
		if !ok {
			return nil, nil, fmt.Errorf("classification refers to unknown listing %s", c.ListingID)
		}
		if _, dup := touched[c.ListingID]; dup {
			return nil, nil, fmt.Errorf("listing %s matched more than once in run %d", c.ListingID, s.runID)
		}

		l := current.Clone()
		wasDelisted := l.Status == types.StatusDelisted
		l.SourceURL = c.Record.SourceURL
		l.Raw = c.Record.Raw
		l.LastSeenRun = s.runID
		l.MissedRuns = 0

		switch c.Kind {
		case classify.KindUnchanged:
			run.UnchangedCount++
		case classify.KindUpdated:
			l.Fields = c.Record.Fields
			appendHistory(l.ID, types.HistoryUpdated, c.Diff)
			summary.Updated = append(summary.Updated, l)
			run.UpdatedCount++
		case classify.KindExclusiveFlagged:
			l.Fields = c.Record.Fields
			appendHistory(l.ID, types.HistoryExclusive, c.Diff)
			summary.Exclusive = append(summary.Exclusive, l)
			run.ExclusiveCount++
		}

		l.Status = types.StatusFor(l.Fields)
		if wasDelisted {
			appendHistory(l.ID, types.HistoryRelisted, nil)
			summary.Relisted = append(summary.Relisted, l)
			run.RelistedCount++
		}
		touched[l.ID] = l
	}

	// Sweep: listings on an attempted page that received no record this run
	attempted := make(map[string]bool, len(batch.URLResults))
	for _, r := range batch.URLResults {
		attempted[r.URL] = true
	}
	grace := s.ledger.cfg.GracePeriod
	for _, current := range s.listings {
		if _, seen := touched[current.ID]; seen {
			continue
		}
		if current.Status == types.StatusDelisted || !attempted[current.SourceURL] {
			continue
		}
		l := current.Clone()
		l.MissedRuns++
		if l.MissedRuns >= grace {
			l.Status = types.StatusDelisted
			appendHistory(l.ID, types.HistoryDelisted, nil)
			summary.Delisted = append(summary.Delisted, l)
			run.DelistedCount++
		}
		touched[l.ID] = l
	}

	// Listings re-normalized at Begin are written even when nothing else
	// happened to them.
	for _, id := range renormalizedIDs {
		if _, ok := touched[id]; !ok {
			touched[id] = s.byID[id]
		}
	}

	var posts []types.BlogPost
	seenPosts := make(map[string]bool)
	for _, p := range batch.BlogPosts {
		if p.Title == "" {
			continue
		}
		id := normalize.BlogPostID(p.Title, p.Date)
		if s.blogIDs[id] || seenPosts[id] {
			continue
		}
		seenPosts[id] = true
		published := ""
		if p.Date != nil {
			published = *p.Date
		}
		posts = append(posts, types.BlogPost{
			ID:           id,
			SourceURL:    p.SourceURL,
			PostURL:      p.PostURL,
			Title:        p.Title,
			Published:    published,
			FirstSeenRun: s.runID,
			FirstSeenAt:  now,
		})
	}
	run.NewBlogPostCount = len(posts)
	summary.NewBlogPosts = posts

	listings := make([]*types.Listing, 0, len(created)+len(touched))
	listings = append(listings, created...)
	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		listings = append(listings, touched[id])
	}

	summary.Run = run
	cs := &storage.ChangeSet{
		Run:        run,
		Listings:   listings,
		History:    history,
		BlogPosts:  posts,
		URLResults: batch.URLResults,
		Meta:       map[string]string{storage.MetaNormalizerVersion: normalize.Version},
	}
	return cs, summary, nil
}

// Abort records the run as failed and releases the lock. No listing state
// is written.
func (s *Session) Abort(ctx context.Context, cause error) error {
	if s.done {
		return nil
	}
	defer s.finish()
	return s.writeFailedRun(ctx, Batch{}, cause)
}

func (s *Session) recordFailure(ctx context.Context, batch Batch, cause error) {
	if err := s.writeFailedRun(ctx, batch, cause); err != nil {
		log.Printf("[LEDGER] warning: could not record failed run %d: %v", s.runID, err)
	}
}

func (s *Session) writeFailedRun(ctx context.Context, batch Batch, cause error) error {
	if cause == nil {
		cause = errors.New("aborted")
	}
	finished := s.ledger.now()
	if finished.Before(s.startedAt) {
		finished = s.startedAt
	}
	run := &types.Run{
		ID:            s.runID,
		StartedAt:     s.startedAt,
		FinishedAt:    finished,
		Mode:          s.mode,
		Status:        types.RunFailed,
		InputURLCount: max(batch.InputURLCount, len(batch.URLResults)),
		Error:         cause.Error(),
	}
	for _, r := range batch.URLResults {
		if r.Failed() {
			run.FailedURLCount++
		}
	}
	log.Printf("[LEDGER] Run %d failed: %v", s.runID, cause)

	// A canceled run context must not prevent the audit row.
	ctx = context.WithoutCancel(ctx)
	return s.ledger.store.RecordRun(ctx, run)
}

func (s *Session) finish() {
	s.done = true
	if err := s.lock.Release(); err != nil {
		log.Printf("[LEDGER] warning: failed to release run lock: %v", err)
	}
}
