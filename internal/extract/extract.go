// Package extract pulls raw listing and blog-post records out of fetched
// pages. The AI extractor asks a Claude model for structured JSON; the regex
// extractor is a keyword heuristic used when no API key is configured or the
// model call fails.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/muskokacottagefinder/mcf/internal/cost"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// Extractor turns one page into raw records. An error means the page could
// not be processed at all; it is recorded as a failure of that URL.
type Extractor interface {
	ExtractListings(ctx context.Context, page *types.Page) ([]types.RawRecord, error)
	ExtractBlogPosts(ctx context.Context, page *types.Page) ([]types.RawBlogPost, error)
}

// UsageReporter is implemented by extractors that spend model tokens.
type UsageReporter interface {
	Usage() cost.Stats
}

// Content limits sent to the model per page, in bytes.
const (
	MaxListingContent = 80000
	MaxBlogContent    = 40000
)

// Config selects and configures the extractor.
type Config struct {
	// APIKey for the Anthropic API. Empty means ANTHROPIC_API_KEY, and if
	// that is unset too only the regex extractor is used.
	APIKey string `yaml:"api_key"`

	// Model overrides the default model (MCF_EXTRACT_MODEL)
	Model string `yaml:"model"`

	// MaxTokens bounds each model response
	// Default: 4000
	MaxTokens int64 `yaml:"max_tokens"`

	// Budget caps model spend per run; pages past it use regex extraction
	Budget cost.Config `yaml:"budget"`

	Retry RetryConfig `yaml:"-"`
}

// DefaultConfig returns the default extractor configuration
func DefaultConfig() Config {
	return Config{
		MaxTokens: 4000,
		Budget:    cost.DefaultConfig(),
		Retry:     DefaultRetryConfig(),
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive (got %d)", c.MaxTokens)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative (got %d)", c.Retry.MaxRetries)
	}
	if err := c.Budget.Validate(); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	return nil
}

// New returns the AI extractor backed by the regex extractor when an API key
// is available, otherwise the regex extractor alone.
func New(cfg Config) (Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extractor config: %w", err)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	regex := NewRegexExtractor()
	if cfg.APIKey == "" {
		log.Printf("[EXTRACT] No Anthropic API key configured, using regex extraction only")
		return regex, nil
	}

	ai, err := NewAIExtractor(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("[EXTRACT] Using %s for extraction with regex fallback", ai.Model())
	return WithFallback(ai, regex), nil
}

// fallback tries primary first and secondary when primary fails.
type fallback struct {
	primary   Extractor
	secondary Extractor
}

// WithFallback returns an Extractor that uses secondary whenever primary
// returns an error. The combined error is returned only if both fail.
func WithFallback(primary, secondary Extractor) Extractor {
	return &fallback{primary: primary, secondary: secondary}
}

func (f *fallback) ExtractListings(ctx context.Context, page *types.Page) ([]types.RawRecord, error) {
	records, err := f.primary.ExtractListings(ctx, page)
	if err == nil {
		return records, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	log.Printf("[EXTRACT] Listing extraction failed for %s, falling back: %v", page.URL, err)
	records, ferr := f.secondary.ExtractListings(ctx, page)
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return records, nil
}

func (f *fallback) ExtractBlogPosts(ctx context.Context, page *types.Page) ([]types.RawBlogPost, error) {
	posts, err := f.primary.ExtractBlogPosts(ctx, page)
	if err == nil {
		return posts, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	log.Printf("[EXTRACT] Blog extraction failed for %s, falling back: %v", page.URL, err)
	posts, ferr := f.secondary.ExtractBlogPosts(ctx, page)
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return posts, nil
}

// Usage reports the primary extractor's model spend, if it has any.
func (f *fallback) Usage() cost.Stats {
	if u, ok := f.primary.(UsageReporter); ok {
		return u.Usage()
	}
	return cost.Stats{}
}
