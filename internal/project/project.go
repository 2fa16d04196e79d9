// Package project derives the read-only views consumed by the report and
// alert collaborators from committed ledger state.
package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// NewWindow is how far back NewThisWeek reaches from the queried run's
// start. The bound is inclusive.
const NewWindow = 7 * 24 * time.Hour

// ReportBundle is the delta of one run.
type ReportBundle struct {
	Run          *types.Run
	AllListings  []*types.Listing
	NewThisWeek  []*types.Listing
	Exclusives   []*types.Listing
	NewBlogPosts []*types.BlogPost
}

// Projector builds ReportBundles. It never writes.
type Projector struct {
	store storage.Store
}

// New creates a Projector.
func New(store storage.Store) *Projector {
	return &Projector{store: store}
}

// ProjectLatest projects the most recent completed run.
func (p *Projector) ProjectLatest(ctx context.Context) (*ReportBundle, error) {
	run, err := p.store.LatestRun(ctx, types.RunCompleted)
	if err != nil {
		return nil, fmt.Errorf("no completed run to report on: %w", err)
	}
	return p.Project(ctx, run.ID)
}

// Project builds the bundle for runID.
//
// AllListings is the current state of every listing. NewThisWeek holds
// listings first seen in a run that started no later than runID's start and
// at most NewWindow before it. Exclusives holds listings whose status is
// exclusive. NewBlogPosts holds posts first seen after the previous
// completed run, up to and including runID.
func (p *Projector) Project(ctx context.Context, runID int64) (*ReportBundle, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != types.RunCompleted {
		return nil, fmt.Errorf("run %d is %s, not completed", runID, run.Status)
	}

	listings, err := p.store.ListListings(ctx, types.ListingFilter{})
	if err != nil {
		return nil, err
	}

	runs, err := p.store.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}
	started := make(map[int64]time.Time, len(runs))
	for _, r := range runs {
		started[r.ID] = r.StartedAt
	}

	bundle := &ReportBundle{Run: run, AllListings: listings}
	for _, l := range listings {
		if l.Status == types.StatusExclusive {
			bundle.Exclusives = append(bundle.Exclusives, l)
		}
		if l.FirstSeenRun > runID {
			continue
		}
		firstSeen, ok := started[l.FirstSeenRun]
		if !ok {
			continue
		}
		if age := run.StartedAt.Sub(firstSeen); age >= 0 && age <= NewWindow {
			bundle.NewThisWeek = append(bundle.NewThisWeek, l)
		}
	}

	var since int64
	prev, err := p.store.PreviousRun(ctx, runID, types.RunCompleted)
	switch {
	case err == nil:
		since = prev.ID
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, err
	}

	posts, err := p.store.ListBlogPosts(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, post := range posts {
		if post.FirstSeenRun <= runID {
			bundle.NewBlogPosts = append(bundle.NewBlogPosts, post)
		}
	}
	return bundle, nil
}
