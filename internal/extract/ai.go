package extract

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/muskokacottagefinder/mcf/internal/cost"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

const (
	// ModelHaiku is fast and cheap enough to run over every page each run
	ModelHaiku = "claude-3-5-haiku-20241022"

	// ModelSonnet is more accurate on cluttered broker pages
	ModelSonnet = "claude-sonnet-4-5-20250929"
)

// DefaultModel returns the extraction model, overridable via MCF_EXTRACT_MODEL.
func DefaultModel() string {
	if model := os.Getenv("MCF_EXTRACT_MODEL"); model != "" {
		return model
	}
	return ModelHaiku
}

const listingPrompt = `You are reading the text of a real estate broker's web page covering cottage country in Muskoka, Ontario (Lake Muskoka, Lake Joseph, Lake Rosseau, Lake of Bays and nearby lakes).

List every property listing on the page. For each listing return these keys, using null when the page does not say:
- address: street address or location description
- price: asking price exactly as written, e.g. "$2,450,000"
- lake: the lake the property is on
- bedrooms: e.g. "4" or "4+1"
- bathrooms: e.g. "3" or "2.5"
- listing_type: cottage, house, condo, land, commercial or what the page calls it
- waterfront: true when the property is on the water
- exclusive: true when marked exclusive, off-market, pocket listing or private listing
- listing_url: link to the listing's own page if there is one
- description: one-sentence summary, at most 200 characters

Ignore agent profiles, testimonials and navigation. Reply with JSON only, in the form {"listings": [...]}. Reply {"listings": []} when there are none.

Page:
`

const blogPrompt = `You are reading the text of a web page. List the blog posts or news articles it links to.

For each post return title, post_url (absolute when possible) and date (publication date as written, or null).
Ignore navigation and category links. Reply with JSON only, in the form {"posts": [...]}. Reply {"posts": []} when there are none.

Page:
`

// AIExtractor extracts records with a Claude model.
type AIExtractor struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	retry     *retrier
	budget    *cost.Tracker // nil means unlimited

	// complete sends one prompt and returns the text reply
	complete func(ctx context.Context, prompt string) (string, error)
}

// NewAIExtractor creates an AIExtractor. cfg.APIKey must be set.
func NewAIExtractor(cfg Config) (*AIExtractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel()
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.Timeout == 0 {
		retry = DefaultRetryConfig()
	}

	budget, err := cost.NewTracker(cfg.Budget)
	if err != nil {
		return nil, err
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	a := &AIExtractor{
		client:    &client,
		model:     model,
		maxTokens: cfg.MaxTokens,
		retry:     newRetrier(retry),
		budget:    budget,
	}
	a.complete = a.callModel
	return a, nil
}

// Model returns the model in use.
func (a *AIExtractor) Model() string {
	return a.model
}

// Usage returns the model spend since the extractor was created.
func (a *AIExtractor) Usage() cost.Stats {
	if a.budget == nil {
		return cost.Stats{}
	}
	return a.budget.Stats()
}

// ask sends prompt unless the run's budget is spent.
func (a *AIExtractor) ask(ctx context.Context, prompt string) (string, error) {
	if a.budget != nil {
		if err := a.budget.Allow(); err != nil {
			return "", err
		}
	}
	return a.complete(ctx, prompt)
}

func (a *AIExtractor) callModel(ctx context.Context, prompt string) (string, error) {
	var reply string
	err := a.retry.do(ctx, "extraction", func(attemptCtx context.Context) error {
		resp, err := a.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: a.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return err
		}
		if a.budget != nil {
			a.budget.RecordUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		var b strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		reply = b.String()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}
	return reply, nil
}

type listingEnvelope struct {
	Listings []map[string]any `json:"listings"`
}

type postEnvelope struct {
	Posts []map[string]any `json:"posts"`
}

// ExtractListings asks the model for the page's listings.
func (a *AIExtractor) ExtractListings(ctx context.Context, page *types.Page) ([]types.RawRecord, error) {
	reply, err := a.ask(ctx, listingPrompt+pageContent(page, MaxListingContent))
	if err != nil {
		return nil, err
	}
	env, err := parseJSON[listingEnvelope](reply)
	if err != nil {
		return nil, fmt.Errorf("listings for %s: %w", page.URL, err)
	}

	records := make([]types.RawRecord, 0, len(env.Listings))
	for _, item := range env.Listings {
		rec := types.RawRecord{
			SourceURL:   page.URL,
			ScrapedAt:   page.FetchedAt,
			Address:     optString(item["address"]),
			Price:       optString(item["price"]),
			Lake:        optString(item["lake"]),
			Bedrooms:    optString(item["bedrooms"]),
			Bathrooms:   optString(item["bathrooms"]),
			ListingType: optString(item["listing_type"]),
			Exclusive:   optBool(item["exclusive"]),
			Waterfront:  optBool(item["waterfront"]),
			Description: optString(item["description"]),
			ListingURL:  resolveURL(page.URL, optString(item["listing_url"])),
		}
		if rec.Address == nil && rec.Price == nil && rec.Lake == nil && rec.Bedrooms == nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ExtractBlogPosts asks the model for the page's blog posts.
func (a *AIExtractor) ExtractBlogPosts(ctx context.Context, page *types.Page) ([]types.RawBlogPost, error) {
	reply, err := a.ask(ctx, blogPrompt+pageContent(page, MaxBlogContent))
	if err != nil {
		return nil, err
	}
	env, err := parseJSON[postEnvelope](reply)
	if err != nil {
		return nil, fmt.Errorf("blog posts for %s: %w", page.URL, err)
	}

	posts := make([]types.RawBlogPost, 0, len(env.Posts))
	for _, item := range env.Posts {
		title := optString(item["title"])
		if title == nil {
			continue
		}
		post := types.RawBlogPost{
			SourceURL: page.URL,
			Title:     *title,
			Date:      optString(item["date"]),
		}
		if u := resolveURL(page.URL, optString(item["post_url"])); u != nil {
			post.PostURL = *u
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// pageContent renders the page text followed by its links, cut to limit bytes.
func pageContent(page *types.Page, limit int) string {
	var b strings.Builder
	b.WriteString(page.Text)
	if len(page.Links) > 0 {
		b.WriteString("\n\nLinks:\n")
		for _, l := range page.Links {
			fmt.Fprintf(&b, "- %s -> %s\n", l.Text, l.Href)
		}
	}
	return truncateUTF8(b.String(), limit)
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// optString accepts the shapes models use for scalar fields.
func optString(v any) *string {
	var s string
	switch x := v.(type) {
	case string:
		s = strings.TrimSpace(x)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return nil
	}
	switch strings.ToLower(s) {
	case "", "null", "n/a", "none", "unknown":
		return nil
	}
	return &s
}

func optBool(v any) *bool {
	var b bool
	switch x := v.(type) {
	case bool:
		b = x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y":
			b = true
		case "false", "no", "n":
			b = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &b
}

// resolveURL makes ref absolute against base. Unparseable refs are dropped.
func resolveURL(base string, ref *string) *string {
	if ref == nil {
		return nil
	}
	r, err := url.Parse(*ref)
	if err != nil {
		return nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	abs := b.ResolveReference(r).String()
	return &abs
}
