// Package fetch downloads target pages and reduces them to readable text and
// absolute links for the extractors.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/muskokacottagefinder/mcf/internal/types"
)

// Fetcher retrieves one page. An error means the page could not be
// retrieved; the caller records it as a failure of that URL.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*types.Page, error)
}

// DefaultUserAgents are rotated when a site answers 403.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Config holds configuration for the HTTP fetcher
type Config struct {
	// Timeout bounds a single HTTP request
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts is how many times a page is requested before giving up
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the pause between attempts
	// Default: 1s
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ServerErrorDelay is the extra pause after a 5xx response
	// Default: 2s
	ServerErrorDelay time.Duration `yaml:"server_error_delay"`

	// RequestDelay is the minimum spacing between requests across all
	// workers. Zero disables the limit.
	// Default: 1.5s
	RequestDelay time.Duration `yaml:"request_delay"`

	// MaxRedirects followed per request
	// Default: 5
	MaxRedirects int `yaml:"max_redirects"`

	// MaxBodyBytes caps how much of a response is read
	// Default: 10MB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	UserAgents []string `yaml:"user_agents"`
}

// DefaultConfig returns the default fetcher configuration
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		MaxAttempts:      3,
		RetryDelay:       1 * time.Second,
		ServerErrorDelay: 2 * time.Second,
		RequestDelay:     1500 * time.Millisecond,
		MaxRedirects:     5,
		MaxBodyBytes:     10 << 20,
		UserAgents:       DefaultUserAgents,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("max_attempts must be between 1 and 10 (got %d)", c.MaxAttempts)
	}
	if c.RetryDelay < 0 || c.ServerErrorDelay < 0 || c.RequestDelay < 0 {
		return fmt.Errorf("delays cannot be negative")
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects cannot be negative (got %d)", c.MaxRedirects)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive (got %d)", c.MaxBodyBytes)
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("at least one user agent is required")
	}
	return nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
}

// HTTPFetcher fetches pages over HTTP with retries, user agent rotation and
// a shared request rate limit.
type HTTPFetcher struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	nextUA  atomic.Uint64
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTPFetcher from a validated config.
func NewHTTPFetcher(cfg Config) (*HTTPFetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fetch config: %w", err)
	}
	limit := rate.Inf
	if cfg.RequestDelay > 0 {
		limit = rate.Every(cfg.RequestDelay)
	}
	f := &HTTPFetcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= cfg.MaxRedirects {
					return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
				}
				return nil
			},
		},
	}
	f.nextUA.Store(rand.Uint64N(uint64(len(cfg.UserAgents))))
	return f, nil
}

// Fetch GETs pageURL, retrying 403 with a different user agent and 5xx after
// a pause. Other 4xx responses fail immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (*types.Page, error) {
	ua := f.nextUA.Add(1)
	var lastErr error

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
		}

		agent := f.cfg.UserAgents[ua%uint64(len(f.cfg.UserAgents))]
		page, err := f.get(ctx, pageURL, agent)
		if err == nil {
			if attempt > 1 {
				log.Printf("[FETCH] %s succeeded on attempt %d", pageURL, attempt)
			}
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", pageURL, ctx.Err())
		}

		delay := f.cfg.RetryDelay
		var status *StatusError
		if errors.As(err, &status) {
			switch {
			case status.Code == http.StatusForbidden:
				ua++
				log.Printf("[FETCH] 403 from %s, rotating user agent (attempt %d/%d)", pageURL, attempt, f.cfg.MaxAttempts)
			case status.Code >= 500:
				delay += f.cfg.ServerErrorDelay
				log.Printf("[FETCH] %s from %s (attempt %d/%d)", status, pageURL, attempt, f.cfg.MaxAttempts)
			default:
				return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
			}
		} else {
			log.Printf("[FETCH] %s failed (attempt %d/%d): %v", pageURL, attempt, f.cfg.MaxAttempts, err)
		}

		if attempt == f.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch %s: %w", pageURL, ctx.Err())
		}
	}

	return nil, fmt.Errorf("fetch %s failed after %d attempts: %w", pageURL, f.cfg.MaxAttempts, lastErr)
}

func (f *HTTPFetcher) get(ctx context.Context, pageURL, agent string) (*types.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", agent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	page, err := ParseHTML(body, resp.Request.URL)
	if err != nil {
		return nil, err
	}
	page.URL = pageURL
	page.FetchedAt = time.Now().UTC()
	return page, nil
}

// maxLinks caps the links kept per page.
const maxLinks = 500

// ParseHTML reduces an HTML document to collapsed visible text and absolute
// links. Links are harvested before page chrome (nav, header, footer) is
// removed; text is taken after.
func ParseHTML(body []byte, base *url.URL) (*types.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template, svg").Remove()

	page := &types.Page{}
	seen := make(map[string]bool)
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		abs, ok := absoluteLink(base, href)
		if !ok || seen[abs] {
			return true
		}
		seen[abs] = true
		page.Links = append(page.Links, types.Link{Text: collapse(s.Text()), Href: abs})
		return len(page.Links) < maxLinks
	})

	doc.Find("nav, header, footer").Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	page.Text = collapse(visibleText(root))
	return page, nil
}

// visibleText joins text nodes with spaces so adjacent block elements do
// not run together.
func visibleText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "#text":
			b.WriteString(s.Text())
		case "#comment":
			return
		default:
			b.WriteString(visibleText(s))
		}
		b.WriteByte(' ')
	})
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func absoluteLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}
