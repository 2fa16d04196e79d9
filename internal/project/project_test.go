package project

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/storage/sqlite"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "mcf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func run(id int64, start time.Time, status types.RunStatus) types.Run {
	return types.Run{ID: id, StartedAt: start, FinishedAt: start.Add(time.Minute), Mode: types.ModeFull, Status: status}
}

func listing(id string, firstSeen int64, status types.ListingStatus) *types.Listing {
	return &types.Listing{
		ID: id, SourceURL: "https://a.example.com", FirstSeenRun: firstSeen, LastSeenRun: firstSeen, Status: status,
	}
}

func ids(listings []*types.Listing) []string {
	var out []string
	for _, l := range listings {
		out = append(out, l.ID)
	}
	return out
}

func TestNewThisWeekBoundary(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"one second inside", NewWindow - time.Second, true},
		{"exactly seven days", NewWindow, true},
		{"one second outside", NewWindow + time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{
				Run:      run(1, t0, types.RunCompleted),
				Listings: []*types.Listing{listing("old", 1, types.StatusActive)},
			}))
			require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{
				Run: run(2, t0.Add(tt.offset), types.RunCompleted),
			}))

			bundle, err := New(store).Project(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"old"}, ids(bundle.AllListings))
			if tt.want {
				assert.Equal(t, []string{"old"}, ids(bundle.NewThisWeek))
			} else {
				assert.Empty(t, bundle.NewThisWeek)
			}
		})
	}
}

func TestProjectViews(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{
		Run:       run(1, t0, types.RunCompleted),
		Listings:  []*types.Listing{listing("a", 1, types.StatusActive)},
		BlogPosts: []types.BlogPost{{ID: "first|", SourceURL: "https://b.example.com", Title: "First", FirstSeenRun: 1, FirstSeenAt: t0}},
	}))
	failed := run(2, t0.Add(time.Hour), types.RunFailed)
	failed.Error = "boom"
	require.NoError(t, store.RecordRun(ctx, &failed))
	require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{
		Run:       run(3, t0.Add(2*time.Hour), types.RunCompleted),
		Listings:  []*types.Listing{listing("b", 3, types.StatusExclusive)},
		BlogPosts: []types.BlogPost{{ID: "second|", SourceURL: "https://b.example.com", Title: "Second", FirstSeenRun: 3, FirstSeenAt: t0}},
	}))
	require.NoError(t, store.ApplyRun(ctx, &storage.ChangeSet{
		Run:      run(4, t0.Add(3*time.Hour), types.RunCompleted),
		Listings: []*types.Listing{listing("c", 4, types.StatusActive)},
	}))

	p := New(store)

	bundle, err := p.Project(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(bundle.AllListings))
	assert.Equal(t, []string{"a", "b"}, ids(bundle.NewThisWeek), "listings first seen after the run are excluded")
	assert.Equal(t, []string{"b"}, ids(bundle.Exclusives))
	require.Len(t, bundle.NewBlogPosts, 1)
	assert.Equal(t, "Second", bundle.NewBlogPosts[0].Title)

	latest, err := p.ProjectLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest.Run.ID)
	assert.Empty(t, latest.NewBlogPosts)

	first, err := p.Project(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first.NewBlogPosts, 1)
	assert.Equal(t, "First", first.NewBlogPosts[0].Title)

	_, err = p.Project(ctx, 2)
	assert.Error(t, err, "failed runs have no delta")

	_, err = p.Project(ctx, 99)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProjectLatestWithoutRuns(t *testing.T) {
	_, err := New(newStore(t)).ProjectLatest(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
