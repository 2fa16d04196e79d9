// Package web serves the read-only listings dashboard and JSON API behind
// HTTP basic auth.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// Config holds dashboard configuration
type Config struct {
	// Addr is the listen address
	// Default: "127.0.0.1:8080"
	Addr string `yaml:"addr"`

	// Username for basic auth
	// Default: "admin"
	Username string `yaml:"username"`

	// PasswordHash is a bcrypt hash of the dashboard password
	// (MCF_WEB_PASSWORD_HASH). Generate one with `mcf serve --hash-password`.
	PasswordHash string `yaml:"password_hash"`
}

// DefaultConfig returns the default dashboard configuration
func DefaultConfig() Config {
	return Config{Addr: "127.0.0.1:8080", Username: "admin"}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.PasswordHash == "" {
		return fmt.Errorf("password_hash is required; generate one with 'mcf serve --hash-password'")
	}
	if _, err := bcrypt.Cost([]byte(c.PasswordHash)); err != nil {
		return fmt.Errorf("password_hash is not a bcrypt hash: %w", err)
	}
	return nil
}

// HashPassword returns the bcrypt hash to put in the config.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Server is the dashboard.
type Server struct {
	store  storage.Store
	cfg    Config
	router chi.Router
}

// New creates a Server.
func New(store storage.Store, cfg Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("web server requires a store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid web config: %w", err)
	}
	s := &Server{store: store, cfg: cfg}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.basicAuth)

		r.Get("/", s.handleDashboard)
		r.Route("/api", func(r chi.Router) {
			r.Get("/listings", s.handleListings)
			r.Get("/listings/{id}", s.handleListing)
			r.Get("/runs", s.handleRuns)
			r.Get("/urls", s.handleURLStats)
		})
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[WEB] Dashboard listening on http://%s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down dashboard: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Printf("[WEB] %s %s %d %v", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) == 1
		if !ok || !userOK || bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="mcf", charset="UTF-8"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if run, err := s.store.LatestRun(r.Context(), ""); err == nil {
		resp["last_run"] = run.ID
		resp["last_run_status"] = run.Status
		resp["last_run_finished"] = run.FinishedAt
	} else if !errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// listingFilter reads status, lake and limit query parameters.
func listingFilter(r *http.Request) (types.ListingFilter, error) {
	q := r.URL.Query()
	f := types.ListingFilter{
		Status: types.ListingStatus(q.Get("status")),
		Lake:   q.Get("lake"),
	}
	if f.Status != "" && !f.Status.IsValid() {
		return f, fmt.Errorf("invalid status %q", f.Status)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	filter, err := listingFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	listings, err := s.store.ListListings(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	sortByPrice(listings)
	writeJSON(w, http.StatusOK, map[string]any{"count": len(listings), "listings": listings})
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	l, err := s.store.GetListing(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleURLStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetURLStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// dashboardData feeds the dashboard template.
type dashboardData struct {
	Listings  []*types.Listing
	Total     int
	Exclusive int
	Delisted  int
	LastRun   *types.Run
	Filter    types.ListingFilter
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	filter, err := listingFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	listings, err := s.store.ListListings(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sortByPrice(listings)

	data := dashboardData{Listings: listings, Total: len(listings), Filter: filter}
	for _, l := range listings {
		switch l.Status {
		case types.StatusExclusive:
			data.Exclusive++
		case types.StatusDelisted:
			data.Delisted++
		}
	}
	if run, err := s.store.LatestRun(r.Context(), types.RunCompleted); err == nil {
		data.LastRun = run
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		log.Printf("[WEB] template error: %v", err)
	}
}

// sortByPrice orders listings most expensive first, unpriced last.
func sortByPrice(listings []*types.Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		pi, pj := listings[i].Fields.Price, listings[j].Fields.Price
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		}
		return *pi > *pj
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WEB] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"price": func(p *int64) string {
		if p == nil {
			return "—"
		}
		return "$" + groupThousands(*p)
	},
	"str": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"beds": func(b *int) string {
		if b == nil {
			return ""
		}
		return strconv.Itoa(*b)
	},
}).Parse(dashboardHTML))

func groupThousands(n int64) string {
	if n < 0 {
		return "-" + groupThousands(-n)
	}
	s := strconv.FormatInt(n, 10)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Muskoka Cottage Finder</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
table { border-collapse: collapse; width: 100%; }
th, td { padding: .4rem .6rem; border-bottom: 1px solid #ddd; text-align: left; }
th { background: #1f4e78; color: #fff; }
.stats span { margin-right: 1.5rem; }
.exclusive { background: #fff6d5; }
.delisted { color: #999; text-decoration: line-through; }
</style>
</head>
<body>
<h1>Muskoka Cottage Finder</h1>
<p class="stats">
<span>Listings: <b>{{.Total}}</b></span>
<span>Exclusive: <b>{{.Exclusive}}</b></span>
<span>Delisted: <b>{{.Delisted}}</b></span>
{{with .LastRun}}<span>Last run: #{{.ID}} {{.FinishedAt.Format "Jan 2, 2006 15:04"}}</span>{{end}}
</p>
<form method="get">
<input name="lake" placeholder="Lake" value="{{.Filter.Lake}}">
<select name="status">
<option value="">any status</option>
<option value="active">active</option>
<option value="exclusive">exclusive</option>
<option value="delisted">delisted</option>
</select>
<button type="submit">Filter</button>
</form>
<table>
<tr><th>Price</th><th>Address</th><th>Lake</th><th>Beds</th><th>Status</th><th>Source</th></tr>
{{range .Listings}}
<tr class="{{.Status}}">
<td>{{price .Fields.Price}}</td>
<td>{{with .Fields.ListingURL}}<a href="{{str .}}">{{end}}{{str .Fields.Address}}{{with .Fields.ListingURL}}</a>{{end}}</td>
<td>{{str .Fields.Lake}}</td>
<td>{{beds .Fields.Bedrooms}}</td>
<td>{{.Status}}</td>
<td><a href="{{.SourceURL}}">source</a></td>
</tr>
{{else}}
<tr><td colspan="6">No listings yet. Run <code>mcf run</code>.</td></tr>
{{end}}
</table>
</body>
</html>
`
