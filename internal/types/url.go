package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// URL categories
const (
	CategoryBroker = "broker"
	CategoryBlog   = "blog"
)

// TargetURL is a broker or blog page scraped on every run.
type TargetURL struct {
	URL         string     `json:"url"`
	Name        string     `json:"name,omitempty"`
	Category    string     `json:"category"`
	Active      bool       `json:"active"`
	LastScraped *time.Time `json:"last_scraped,omitempty"`
	ErrorCount  int        `json:"error_count"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Validate checks the URL is an absolute http(s) URL
func (t *TargetURL) Validate() error {
	return ValidateTargetURL(t.URL)
}

// ValidateTargetURL checks raw is an absolute http(s) URL with a host.
func ValidateTargetURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

// URLStats summarizes the target list.
type URLStats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	WithErrors int            `json:"with_errors"`
	ByCategory map[string]int `json:"by_category"`
}

// URLResult is the outcome of scraping one URL in one run, written back to
// the urls table at commit.
type URLResult struct {
	URL       string    `json:"url"`
	ScrapedAt time.Time `json:"scraped_at"`
	Error     string    `json:"error,omitempty"`
}

// Failed reports whether the scrape failed.
func (r URLResult) Failed() bool {
	return r.Error != ""
}
