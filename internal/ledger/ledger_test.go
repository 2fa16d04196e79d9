package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muskokacottagefinder/mcf/internal/classify"
	"github.com/muskokacottagefinder/mcf/internal/normalize"
	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/storage/sqlite"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

const pageA = "https://broker-a.example.com/listings"

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

func setup(t *testing.T) (*Ledger, *sqlite.SQLiteStorage) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "mcf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	n, err := normalize.New(normalize.DefaultConfig())
	require.NoError(t, err)

	l, err := New(store, n, DefaultConfig())
	require.NoError(t, err)
	return l, store
}

func record(address string) *types.NormalizedRecord {
	return &types.NormalizedRecord{
		SourceURL: pageA,
		Fields:    types.Fields{Address: strp(address)},
		Raw:       &types.RawRecord{SourceURL: pageA, Address: strp(address)},
	}
}

func newRecord(rec *types.NormalizedRecord) classify.Classification {
	return classify.Classification{Kind: classify.KindNew, Record: rec}
}

func unchanged(id string, rec *types.NormalizedRecord) classify.Classification {
	return classify.Classification{Kind: classify.KindUnchanged, ListingID: id, Record: rec, Score: 1}
}

func attempted(urls ...string) []types.URLResult {
	var out []types.URLResult
	for _, u := range urls {
		out = append(out, types.URLResult{URL: u, ScrapedAt: time.Now().UTC()})
	}
	return out
}

// runOnce opens a session, lets build produce the batch and commits it.
func runOnce(t *testing.T, l *Ledger, build func(s *Session) Batch) *RunSummary {
	t.Helper()
	ctx := context.Background()
	s, err := l.Begin(ctx, types.ModeFull)
	require.NoError(t, err)
	summary, err := s.Commit(ctx, build(s))
	require.NoError(t, err)
	return summary
}

func TestNewThenUnchangedKeepsIdentity(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()

	first := runOnce(t, l, func(s *Session) Batch {
		return Batch{Classifications: []classify.Classification{newRecord(record("12 birch lane"))}, URLResults: attempted(pageA)}
	})
	require.Len(t, first.New, 1)
	id := first.New[0].ID
	assert.NotEmpty(t, id)
	assert.Equal(t, int64(1), first.Run.ID)

	second := runOnce(t, l, func(s *Session) Batch {
		require.Len(t, s.Listings(), 1)
		return Batch{Classifications: []classify.Classification{unchanged(id, record("12 birch lane"))}, URLResults: attempted(pageA)}
	})
	assert.Equal(t, int64(2), second.Run.ID)
	assert.Equal(t, 1, second.Run.UnchangedCount)
	assert.Empty(t, second.New)

	got, err := store.GetListing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.FirstSeenRun)
	assert.Equal(t, int64(2), got.LastSeenRun)
	require.Len(t, got.History, 1)
	assert.Equal(t, types.HistoryNew, got.History[0].Kind)
}

func TestUpdateAppendsDiff(t *testing.T) {
	l, store := setup(t)

	first := runOnce(t, l, func(s *Session) Batch {
		return Batch{Classifications: []classify.Classification{newRecord(record("12 birch lane"))}, URLResults: attempted(pageA)}
	})
	id := first.New[0].ID

	updated := record("12 birch lane")
	updated.Fields.Exclusive = boolp(true)
	diff := types.DiffFields(first.New[0].Fields, updated.Fields)
	require.Len(t, diff, 1)

	second := runOnce(t, l, func(s *Session) Batch {
		return Batch{
			Classifications: []classify.Classification{{
				Kind: classify.KindExclusiveFlagged, ListingID: id, Record: updated, Diff: diff, Score: 1,
			}},
			URLResults: attempted(pageA),
		}
	})
	assert.Equal(t, 1, second.Run.ExclusiveCount)
	require.Len(t, second.Exclusive, 1)

	got, err := store.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExclusive, got.Status)
	require.Len(t, got.History, 2)
	assert.Equal(t, types.HistoryExclusive, got.History[1].Kind)
	assert.Equal(t, diff, got.History[1].Diff)
}

func TestRepeatedUpdatesKeepIdentity(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()

	price := func(v int64) *int64 { return &v }
	beds := func(v int) *int { return &v }
	baths := func(v float64) *float64 { return &v }
	versions := []types.Fields{
		{Address: strp("12 birch lane"), Price: price(1200000), Lake: strp("lake joseph"), Bedrooms: beds(3),
			Bathrooms: baths(2), ListingType: strp("cottage"), Description: strp("sandy beach")},
		{Address: strp("12 birch lane unit a"), Price: price(1150000), Lake: strp("lake rosseau"), Bedrooms: beds(4),
			Bathrooms: baths(2.5), ListingType: strp("house"), Description: strp("deep water dock")},
		{Address: strp("12 birch ln north"), Price: price(990000), Lake: strp("lake muskoka"), Bedrooms: beds(5),
			Bathrooms: baths(3), ListingType: strp("land"), Description: strp("price reduced")},
		{Address: strp("twelve birch lane"), Price: price(1500000), Lake: strp("lake of bays"), Bedrooms: beds(2),
			Bathrooms: baths(1), ListingType: strp("condo"), Description: strp("back on market")},
	}
	rec := func(f types.Fields) *types.NormalizedRecord {
		return &types.NormalizedRecord{SourceURL: pageA, Fields: f, Raw: &types.RawRecord{SourceURL: pageA}}
	}

	first := runOnce(t, l, func(s *Session) Batch {
		return Batch{Classifications: []classify.Classification{newRecord(rec(versions[0]))}, URLResults: attempted(pageA)}
	})
	require.Len(t, first.New, 1)
	id := first.New[0].ID

	for i, f := range versions[1:] {
		summary := runOnce(t, l, func(s *Session) Batch {
			current, ok := s.Listing(id)
			require.True(t, ok)
			diff := types.DiffFields(current.Fields, f)
			require.Len(t, diff, 7, "every field changes in version %d", i+1)
			return Batch{
				Classifications: []classify.Classification{{
					Kind: classify.KindUpdated, ListingID: id, Record: rec(f), Diff: diff, Score: 0.9,
				}},
				URLResults: attempted(pageA),
			}
		})
		assert.Empty(t, summary.New)
		require.Len(t, summary.Updated, 1)
		assert.Equal(t, id, summary.Updated[0].ID)
	}

	all, err := store.ListListings(ctx, types.ListingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)

	got, err := store.GetListing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.FirstSeenRun)
	assert.Equal(t, int64(len(versions)), got.LastSeenRun)
	assert.Equal(t, "twelve birch lane", *got.Fields.Address)
	require.Len(t, got.History, len(versions))
	assert.Equal(t, types.HistoryNew, got.History[0].Kind)
	for _, h := range got.History[1:] {
		assert.Equal(t, types.HistoryUpdated, h.Kind)
	}
}

func TestGracePeriodDelisting(t *testing.T) {
	tests := []struct {
		name       string
		present    []bool // runs 1..5
		wantStatus types.ListingStatus
		wantMissed int
	}{
		{"absent in runs 4 and 5", []bool{true, true, true, false, false}, types.StatusDelisted, 2},
		{"absent in run 4 only", []bool{true, true, true, false, true}, types.StatusActive, 0},
		{"absent in run 5 only", []bool{true, true, true, true, false}, types.StatusActive, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, store := setup(t)
			var id string
			for run, present := range tt.present {
				summary := runOnce(t, l, func(s *Session) Batch {
					batch := Batch{URLResults: attempted(pageA)}
					if !present {
						return batch
					}
					if id == "" {
						batch.Classifications = []classify.Classification{newRecord(record("12 birch lane"))}
					} else {
						batch.Classifications = []classify.Classification{unchanged(id, record("12 birch lane"))}
					}
					return batch
				})
				if run == 0 {
					id = summary.New[0].ID
				}
				if run == 3 {
					assert.Empty(t, summary.Delisted, "one missed run is within the grace period")
				}
			}

			got, err := store.GetListing(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantMissed, got.MissedRuns)
		})
	}
}

func TestSweepSkipsUnattemptedPages(t *testing.T) {
	l, store := setup(t)

	first := runOnce(t, l, func(s *Session) Batch {
		return Batch{Classifications: []classify.Classification{newRecord(record("12 birch lane"))}, URLResults: attempted(pageA)}
	})
	id := first.New[0].ID

	for i := 0; i < 3; i++ {
		runOnce(t, l, func(s *Session) Batch {
			return Batch{URLResults: attempted("https://other.example.com")}
		})
	}

	got, err := store.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Equal(t, 0, got.MissedRuns)
}

func TestFailedFetchStillCountsAsMissed(t *testing.T) {
	l, store := setup(t)

	first := runOnce(t, l, func(s *Session) Batch {
		return Batch{Classifications: []classify.Classification{newRecord(record("12 birch lane"))}, URLResults: attempted(pageA)}
	})
	id := first.New[0].ID

	failed := []types.URLResult{{URL: pageA, ScrapedAt: time.Now(), Error: "status 503"}}
	summary := runOnce(t, l, func(s *Session) Batch { return Batch{URLResults: failed} })
	assert.Equal(t, 1, summary.Run.FailedURLCount)
	require.Len(t, summary.Failures, 1)

	got, err := store.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MissedRuns)
}

func TestRelisting(t *testing.T) {
	l, store := setup(t)

	first := runOnce(t, l, func(s *Session) Batch {
		return Batch{Classifications: []classify.Classification{newRecord(record("12 birch lane"))}, URLResults: attempted(pageA)}
	})
	id := first.New[0].ID
	runOnce(t, l, func(s *Session) Batch { return Batch{URLResults: attempted(pageA)} })
	delisted := runOnce(t, l, func(s *Session) Batch { return Batch{URLResults: attempted(pageA)} })
	require.Len(t, delisted.Delisted, 1)

	relisted := runOnce(t, l, func(s *Session) Batch {
		return Batch{Classifications: []classify.Classification{unchanged(id, record("12 birch lane"))}, URLResults: attempted(pageA)}
	})
	assert.Equal(t, 1, relisted.Run.RelistedCount)

	got, err := store.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)
	var kinds []types.HistoryKind
	for _, h := range got.History {
		kinds = append(kinds, h.Kind)
	}
	assert.Equal(t, []types.HistoryKind{types.HistoryNew, types.HistoryDelisted, types.HistoryRelisted}, kinds)
}

func TestBlogPostsDedupedByCanonicalID(t *testing.T) {
	l, store := setup(t)
	date := "2026-04-30"

	first := runOnce(t, l, func(s *Session) Batch {
		return Batch{BlogPosts: []types.RawBlogPost{
			{SourceURL: pageA, Title: "Spring Market Update!", Date: &date},
			{SourceURL: pageA, Title: "spring market update", Date: &date},
		}}
	})
	assert.Len(t, first.NewBlogPosts, 1)

	second := runOnce(t, l, func(s *Session) Batch {
		return Batch{BlogPosts: []types.RawBlogPost{
			{SourceURL: pageA, Title: "SPRING MARKET UPDATE", Date: &date},
			{SourceURL: pageA, Title: "Fall Preview"},
		}}
	})
	require.Len(t, second.NewBlogPosts, 1)
	assert.Equal(t, "Fall Preview", second.NewBlogPosts[0].Title)

	posts, err := store.ListBlogPosts(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestBeginFailsFastOnLockContention(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()

	s, err := l.Begin(ctx, types.ModeFull)
	require.NoError(t, err)

	_, err = l.Begin(ctx, types.ModeFull)
	assert.ErrorIs(t, err, storage.ErrRunInProgress)

	require.NoError(t, s.Abort(ctx, errors.New("test abort")))

	again, err := l.Begin(ctx, types.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.RunID(), "the aborted run consumed id 1")
	require.NoError(t, again.Abort(ctx, nil))
}

func TestAbortWritesFailedRunOnly(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()

	s, err := l.Begin(ctx, types.ModeTest)
	require.NoError(t, err)
	require.NoError(t, s.Abort(ctx, errors.New("extraction blew up")))

	run, err := store.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Status)
	assert.Equal(t, types.ModeTest, run.Mode)
	assert.Equal(t, "extraction blew up", run.Error)

	listings, err := store.ListListings(ctx, types.ListingFilter{})
	require.NoError(t, err)
	assert.Empty(t, listings)

	_, err = s.Commit(ctx, Batch{})
	assert.Error(t, err)
}

func TestCommitRejectsUnknownListing(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()

	s, err := l.Begin(ctx, types.ModeFull)
	require.NoError(t, err)
	_, err = s.Commit(ctx, Batch{
		Classifications: []classify.Classification{unchanged("no-such-listing", record("1 main street"))},
	})
	require.Error(t, err)

	run, err := store.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Status)

	_, err = store.LatestRun(ctx, types.RunCompleted)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		stored      string
		wantMigrate bool
		wantErr     bool
	}{
		{"", false, false},
		{normalize.Version, false, false},
		{"v0.9.0", true, false},
		{"v99.0.0", false, true},
		{"banana", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.stored, func(t *testing.T) {
			migrate, err := checkVersion(tt.stored, normalize.Version)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMigrate, migrate)
		})
	}
}

func TestOlderNormalizerVersionRenormalizes(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()

	// A listing stored by an older normalizer that kept the abbreviation
	raw := &types.RawRecord{SourceURL: pageA, Address: strp("12 Birch Ln")}
	start := time.Now().UTC()
	require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{
		Run: types.Run{ID: 1, StartedAt: start, FinishedAt: start, Mode: types.ModeFull, Status: types.RunCompleted},
		Listings: []*types.Listing{{
			ID: "old", SourceURL: pageA, Fields: types.Fields{Address: strp("12 birch ln")}, Raw: raw,
			FirstSeenRun: 1, LastSeenRun: 1, Status: types.StatusActive,
		}},
		Meta: map[string]string{storage.MetaNormalizerVersion: "v0.1.0"},
	}))

	runOnce(t, l, func(s *Session) Batch {
		got, ok := s.Listing("old")
		require.True(t, ok)
		assert.Equal(t, "12 birch lane", *got.Fields.Address)
		return Batch{}
	})

	got, err := store.GetListing(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "12 birch lane", *got.Fields.Address)

	// The rewrite is in the history, so replaying diffs reproduces the fields
	require.Len(t, got.History, 1)
	entry := got.History[0]
	assert.Equal(t, types.HistoryRenormalized, entry.Kind)
	assert.Equal(t, int64(2), entry.RunID)
	assert.Contains(t, entry.Diff, types.FieldChange{
		Field: types.FieldAddress, Old: strp("12 birch ln"), New: strp("12 birch lane"),
	})

	version, err := store.GetMeta(ctx, storage.MetaNormalizerVersion)
	require.NoError(t, err)
	assert.Equal(t, normalize.Version, version)
}

func TestRenormalizationPrecedesUpdateInHistory(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()

	raw := &types.RawRecord{SourceURL: pageA, Address: strp("12 Birch Ln")}
	start := time.Now().UTC()
	require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{
		Run: types.Run{ID: 1, StartedAt: start, FinishedAt: start, Mode: types.ModeFull, Status: types.RunCompleted},
		Listings: []*types.Listing{{
			ID: "old", SourceURL: pageA, Fields: types.Fields{Address: strp("12 birch ln")}, Raw: raw,
			FirstSeenRun: 1, LastSeenRun: 1, Status: types.StatusActive,
		}},
		Meta: map[string]string{storage.MetaNormalizerVersion: "v0.1.0"},
	}))

	var updateDiff []types.FieldChange
	runOnce(t, l, func(s *Session) Batch {
		current, ok := s.Listing("old")
		require.True(t, ok)
		updated := record("12 birch lane")
		updated.Fields.Lake = strp("lake joseph")
		updateDiff = types.DiffFields(current.Fields, updated.Fields)
		return Batch{
			Classifications: []classify.Classification{{
				Kind: classify.KindUpdated, ListingID: "old", Record: updated, Diff: updateDiff, Score: 1,
			}},
			URLResults: attempted(pageA),
		}
	})

	got, err := store.GetListing(ctx, "old")
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, types.HistoryRenormalized, got.History[0].Kind)
	assert.Equal(t, types.HistoryUpdated, got.History[1].Kind)
	assert.Contains(t, updateDiff, types.FieldChange{Field: types.FieldLake, New: strp("lake joseph")})
	assert.Equal(t, updateDiff, got.History[1].Diff)
}

func TestNewerNormalizerVersionFailsFast(t *testing.T) {
	l, store := setup(t)
	ctx := context.Background()
	require.NoError(t, store.SetMeta(ctx, storage.MetaNormalizerVersion, "v99.0.0"))

	_, err := l.Begin(ctx, types.ModeFull)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer")

	// The lock was released on failure
	lock, err := store.AcquireRunLock(ctx, "next run")
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{GracePeriod: 0}.Validate())

	t.Setenv("MCF_LEDGER_GRACE_RUNS", "3")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.GracePeriod)

	t.Setenv("MCF_LEDGER_GRACE_RUNS", "soon")
	_, err = ConfigFromEnv()
	assert.Error(t, err)
}
