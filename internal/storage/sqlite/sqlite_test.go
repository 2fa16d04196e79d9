package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/storage/migrations"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "mcf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }

func completedRun(id int64) types.Run {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour)
	return types.Run{
		ID:         id,
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Mode:       types.ModeFull,
		Status:     types.RunCompleted,
	}
}

func TestURLLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.AddURL(ctx, &types.TargetURL{URL: "https://a.example.com/listings", Name: "A"}))
	require.NoError(t, store.AddURL(ctx, &types.TargetURL{URL: "https://b.example.com/blog", Category: types.CategoryBlog}))

	err := store.AddURL(ctx, &types.TargetURL{URL: "ftp://nope"})
	assert.Error(t, err)

	urls, err := store.ListURLs(ctx, true)
	require.NoError(t, err)
	require.Len(t, urls, 2)
	assert.Equal(t, "A", urls[0].Name)
	assert.Equal(t, types.CategoryBroker, urls[0].Category)
	assert.Nil(t, urls[0].LastScraped)

	require.NoError(t, store.RemoveURL(ctx, "https://a.example.com/listings"))
	assert.ErrorIs(t, store.RemoveURL(ctx, "https://missing.example.com"), storage.ErrNotFound)

	active, err := store.ListURLs(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := store.ListURLs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Re-adding reactivates and keeps the existing name
	require.NoError(t, store.AddURL(ctx, &types.TargetURL{URL: "https://a.example.com/listings"}))
	u, err := store.GetURL(ctx, "https://a.example.com/listings")
	require.NoError(t, err)
	assert.True(t, u.Active)
	assert.Equal(t, "A", u.Name)

	stats, err := store.GetURLStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.ByCategory[types.CategoryBlog])
}

func TestApplyRunWritesEverything(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.AddURL(ctx, &types.TargetURL{URL: "https://a.example.com/listings"}))
	require.NoError(t, store.AddURL(ctx, &types.TargetURL{URL: "https://b.example.com/listings"}))

	runID, err := store.NextRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), runID)

	listing := &types.Listing{
		ID:        "lst-1",
		SourceURL: "https://a.example.com/listings",
		Fields: types.Fields{
			Address: strp("12 birch lane"),
			Price:   i64p(1_250_000),
			Lake:    strp("Lake Joseph"),
		},
		Raw:          &types.RawRecord{SourceURL: "https://a.example.com/listings", Address: strp("12 Birch Ln")},
		FirstSeenRun: runID,
		LastSeenRun:  runID,
		Status:       types.StatusActive,
	}
	scraped := time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC)

	cs := &storage.ChangeSet{
		Run:      completedRun(runID),
		Listings: []*types.Listing{listing},
		History: []storage.HistoryAppend{
			{ListingID: "lst-1", Entry: types.HistoryEntry{RunID: runID, Kind: types.HistoryNew}},
		},
		BlogPosts: []types.BlogPost{
			{ID: "spring market|2026-04-30", SourceURL: "https://b.example.com/blog", Title: "Spring Market", FirstSeenRun: runID, FirstSeenAt: scraped},
		},
		URLResults: []types.URLResult{
			{URL: "https://a.example.com/listings", ScrapedAt: scraped},
			{URL: "https://b.example.com/listings", ScrapedAt: scraped, Error: "status 503"},
		},
		Meta: map[string]string{storage.MetaNormalizerVersion: "v1.0.0"},
	}
	cs.Run.NewCount = 1
	cs.Run.InputURLCount = 2
	cs.Run.FailedURLCount = 1
	require.NoError(t, store.ApplyRun(ctx, cs))

	got, err := store.GetListing(ctx, "lst-1")
	require.NoError(t, err)
	assert.Equal(t, "12 birch lane", *got.Fields.Address)
	assert.Equal(t, int64(1_250_000), *got.Fields.Price)
	require.NotNil(t, got.Raw)
	assert.Equal(t, "12 Birch Ln", *got.Raw.Address)
	require.Len(t, got.History, 1)
	assert.Equal(t, types.HistoryNew, got.History[0].Kind)

	run, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.NewCount)
	assert.Equal(t, 1, run.FailedURLCount)
	assert.True(t, run.StartedAt.Equal(cs.Run.StartedAt))

	posts, err := store.ListBlogPosts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "Spring Market", posts[0].Title)

	ok, err := store.GetURL(ctx, "https://a.example.com/listings")
	require.NoError(t, err)
	require.NotNil(t, ok.LastScraped)
	assert.Equal(t, 0, ok.ErrorCount)

	failed, err := store.GetURL(ctx, "https://b.example.com/listings")
	require.NoError(t, err)
	assert.Nil(t, failed.LastScraped)
	assert.Equal(t, 1, failed.ErrorCount)
	assert.Equal(t, "status 503", failed.LastError)

	version, err := store.GetMeta(ctx, storage.MetaNormalizerVersion)
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", version)

	next, err := store.NextRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}

func TestApplyRunIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	good := &types.Listing{
		ID: "lst-1", SourceURL: "https://a.example.com", FirstSeenRun: 1, LastSeenRun: 1,
		Status: types.StatusActive,
	}
	cs := &storage.ChangeSet{
		Run:      completedRun(1),
		Listings: []*types.Listing{good},
		History: []storage.HistoryAppend{
			// References a listing that is never written: the FK fails mid-transaction
			{ListingID: "ghost", Entry: types.HistoryEntry{RunID: 1, Kind: types.HistoryNew}},
		},
	}
	require.Error(t, store.ApplyRun(ctx, cs))

	listings, err := store.ListListings(ctx, types.ListingFilter{})
	require.NoError(t, err)
	assert.Empty(t, listings)

	_, err = store.GetRun(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplyRunRejectsInvalidChangeSet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cs := &storage.ChangeSet{
		Run: completedRun(1),
		History: []storage.HistoryAppend{
			{ListingID: "x", Entry: types.HistoryEntry{RunID: 7, Kind: types.HistoryNew}},
		},
	}
	err := store.ApplyRun(ctx, cs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestListingUpsertAndFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := &types.Listing{
		ID: "a", SourceURL: "https://a.example.com", FirstSeenRun: 1, LastSeenRun: 1,
		Status: types.StatusActive, Fields: types.Fields{Lake: strp("Lake Rosseau")},
	}
	second := &types.Listing{
		ID: "b", SourceURL: "https://b.example.com", FirstSeenRun: 1, LastSeenRun: 1,
		Status: types.StatusExclusive, Fields: types.Fields{Lake: strp("Lake Joseph")},
	}
	require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{
		Run: completedRun(1), Listings: []*types.Listing{first, second},
	}))

	updated := first.Clone()
	updated.LastSeenRun = 2
	updated.MissedRuns = 0
	updated.Status = types.StatusDelisted
	require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{
		Run: completedRun(2), Listings: []*types.Listing{updated},
	}))

	got, err := store.GetListing(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.FirstSeenRun)
	assert.Equal(t, int64(2), got.LastSeenRun)
	assert.Equal(t, types.StatusDelisted, got.Status)

	tests := []struct {
		name   string
		filter types.ListingFilter
		want   []string
	}{
		{"all", types.ListingFilter{}, []string{"a", "b"}},
		{"by status", types.ListingFilter{Status: types.StatusExclusive}, []string{"b"}},
		{"by source", types.ListingFilter{SourceURL: "https://a.example.com"}, []string{"a"}},
		{"by lake substring", types.ListingFilter{Lake: "joseph"}, []string{"b"}},
		{"limit", types.ListingFilter{Limit: 1}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listings, err := store.ListListings(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, l := range listings {
				ids = append(ids, l.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	_, err = store.GetListing(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBlogPostsInsertedOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	post := types.BlogPost{ID: "p|", SourceURL: "https://b.example.com", Title: "P", FirstSeenRun: 1, FirstSeenAt: time.Now()}
	require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{Run: completedRun(1), BlogPosts: []types.BlogPost{post}}))

	again := post
	again.FirstSeenRun = 2
	require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{Run: completedRun(2), BlogPosts: []types.BlogPost{again}}))

	posts, err := store.ListBlogPosts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, int64(1), posts[0].FirstSeenRun)

	since, err := store.ListBlogPosts(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, since)
}

func TestRunQueries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.LatestRun(ctx, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{Run: completedRun(1)}))
	failed := completedRun(2)
	failed.Status = types.RunFailed
	failed.Error = "boom"
	require.NoError(t, store.RecordRun(ctx, &failed))
	require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{Run: completedRun(3)}))

	latest, err := store.LatestRun(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.ID)

	prev, err := store.PreviousRun(ctx, 3, types.RunCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), prev.ID)

	lastFailed, err := store.LatestRun(ctx, types.RunFailed)
	require.NoError(t, err)
	assert.Equal(t, "boom", lastFailed.Error)

	_, err = store.PreviousRun(ctx, 1, types.RunCompleted)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, int64(3), runs[0].ID)
	assert.Equal(t, int64(2), runs[1].ID)

	// Run ids are never reused
	assert.Error(t, store.RecordRun(ctx, &failed))
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	v, err := store.GetMeta(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, store.SetMeta(ctx, "k", "1"))
	require.NoError(t, store.SetMeta(ctx, "k", "2"))
	v, err = store.GetMeta(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestRunLockExcludesSecondHolder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	lock, err := store.AcquireRunLock(ctx, "first")
	require.NoError(t, err)

	_, err = store.AcquireRunLock(ctx, "second")
	assert.ErrorIs(t, err, storage.ErrRunInProgress)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())

	again, err := store.AcquireRunLock(ctx, "third")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mcf.db")

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.AddURL(ctx, &types.TargetURL{URL: "https://a.example.com"}))
	require.NoError(t, store.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	urls, err := reopened.ListURLs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, urls, 1)
}

func TestSchemaAtLatestVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	version, err := migrations.Version(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, schemaMigrations[len(schemaMigrations)-1].Version, version)

	reopened, err := New(store.Path())
	require.NoError(t, err)
	defer reopened.Close()
	version, err = migrations.Version(ctx, reopened.db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}
