package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/storage/sqlite"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

const password = "cottage-season"

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "mcf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	started := time.Date(2026, 5, 3, 6, 0, 0, 0, time.UTC)
	listing := func(id, address string, price *int64, status types.ListingStatus) *types.Listing {
		return &types.Listing{
			ID: id, SourceURL: "https://b.example.com/listings", Status: status,
			Fields:       types.Fields{Address: strp(address), Price: price, Lake: strp("Lake Joseph")},
			FirstSeenRun: 1, LastSeenRun: 1,
		}
	}
	require.NoError(t, store.ApplyRun(context.Background(), &storage.ChangeSet{
		Run: types.Run{ID: 1, StartedAt: started, FinishedAt: started.Add(time.Minute), Mode: types.ModeFull, Status: types.RunCompleted},
		Listings: []*types.Listing{
			listing("a", "4 pine road", i64p(899000), types.StatusActive),
			listing("b", "12 birch lane", i64p(2450000), types.StatusExclusive),
			listing("c", "1 <lake> road", nil, types.StatusActive),
		},
	}))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.PasswordHash = string(hash)

	s, err := New(store, cfg)
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s *Server, path string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth {
		req.SetBasicAuth("admin", password)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	s := newTestServer(t)
	rec := get(t, s, "/healthz", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["last_run"])
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		set  func(*http.Request)
		want int
	}{
		{"no credentials", func(r *http.Request) {}, http.StatusUnauthorized},
		{"wrong password", func(r *http.Request) { r.SetBasicAuth("admin", "nope") }, http.StatusUnauthorized},
		{"wrong user", func(r *http.Request) { r.SetBasicAuth("root", password) }, http.StatusUnauthorized},
		{"valid", func(r *http.Request) { r.SetBasicAuth("admin", password) }, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
			tt.set(req)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAPIListings(t *testing.T) {
	s := newTestServer(t)

	rec := get(t, s, "/api/listings", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count    int              `json:"count"`
		Listings []*types.Listing `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)
	assert.Equal(t, []string{"b", "a", "c"}, []string{body.Listings[0].ID, body.Listings[1].ID, body.Listings[2].ID})

	rec = get(t, s, "/api/listings?status=exclusive", true)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "b", body.Listings[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/listings?status=sold", true).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/listings?limit=-1", true).Code)
}

func TestAPIListingByID(t *testing.T) {
	s := newTestServer(t)
	rec := get(t, s, "/api/listings/a", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var l types.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))
	assert.Equal(t, "4 pine road", *l.Fields.Address)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/listings/missing", true).Code)
}

func TestAPIRuns(t *testing.T) {
	s := newTestServer(t)
	rec := get(t, s, "/api/runs?limit=5", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []*types.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, types.RunCompleted, body.Runs[0].Status)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/runs?limit=zero", true).Code)
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t)
	rec := get(t, s, "/", true)
	require.Equal(t, http.StatusOK, rec.Code)
	html := rec.Body.String()
	assert.Contains(t, html, "Listings: <b>3</b>")
	assert.Contains(t, html, "Exclusive: <b>1</b>")
	assert.Contains(t, html, "$2,450,000")
	assert.Contains(t, html, "1 &lt;lake&gt; road")
	assert.Less(t, indexOf(html, "$2,450,000"), indexOf(html, "$899,000"), "sorted by price")
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "password hash required")

	cfg.PasswordHash = "plain"
	assert.Error(t, cfg.Validate())

	hash, err := HashPassword("long enough")
	require.NoError(t, err)
	cfg.PasswordHash = hash
	assert.NoError(t, cfg.Validate())

	_, err = HashPassword("short")
	assert.Error(t, err)
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "999", groupThousands(999))
	assert.Equal(t, "1,000", groupThousands(1000))
	assert.Equal(t, "2,450,000", groupThousands(2450000))
	assert.Equal(t, "-1,000", groupThousands(-1000))
}
