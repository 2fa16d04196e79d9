package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muskokacottagefinder/mcf/internal/cost"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

func testPage(text string, links ...types.Link) *types.Page {
	return &types.Page{
		URL:       "https://broker.example.com/listings",
		Text:      text,
		Links:     links,
		FetchedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func fakeAI(reply string, err error) *AIExtractor {
	return &AIExtractor{
		model: "fake",
		complete: func(ctx context.Context, prompt string) (string, error) {
			return reply, err
		},
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"direct", `{"listings": [{"price": "$1"}]}`, 1},
		{"code fence", "```json\n{\"listings\": [{\"price\": \"$1\"}, {}]}\n```", 2},
		{"trailing comma", `{"listings": [{"price": "$1"},]}`, 1},
		{"prose around", `Here are the listings: {"listings": []} Hope that helps.`, 0},
		{"url with slashes", `{"listings": [{"listing_url": "https://x.example.com/a"},]}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := parseJSON[listingEnvelope](tt.input)
			require.NoError(t, err)
			assert.Len(t, env.Listings, tt.want)
		})
	}

	_, err := parseJSON[listingEnvelope]("   ")
	assert.Error(t, err)
	_, err = parseJSON[listingEnvelope]("no json here")
	assert.Error(t, err)
}

func TestAIExtractorListings(t *testing.T) {
	reply := "```json\n" + `{"listings": [
		{"address": "12 Birch Ln", "price": "$1,250,000", "lake": "Lake Joseph", "bedrooms": 4,
		 "bathrooms": "2.5", "exclusive": "yes", "waterfront": true, "listing_url": "/listing/12-birch"},
		{"address": null, "price": null, "lake": "", "bedrooms": "n/a", "description": "Agent profile"}
	]}` + "\n```"

	records, err := fakeAI(reply, nil).ExtractListings(context.Background(), testPage("..."))
	require.NoError(t, err)
	require.Len(t, records, 1, "records with no comparable field are dropped")

	rec := records[0]
	assert.Equal(t, "https://broker.example.com/listings", rec.SourceURL)
	assert.Equal(t, "12 Birch Ln", *rec.Address)
	assert.Equal(t, "$1,250,000", *rec.Price)
	assert.Equal(t, "4", *rec.Bedrooms)
	assert.True(t, *rec.Exclusive)
	assert.True(t, *rec.Waterfront)
	assert.Equal(t, "https://broker.example.com/listing/12-birch", *rec.ListingURL)
	assert.Nil(t, rec.ListingType)
}

func TestAIExtractorBlogPosts(t *testing.T) {
	reply := `{"posts": [{"title": "Spring Market Report", "post_url": "/blog/spring", "date": "2026-04-30"}, {"title": null}]}`
	posts, err := fakeAI(reply, nil).ExtractBlogPosts(context.Background(), testPage("..."))
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "https://broker.example.com/blog/spring", posts[0].PostURL)
	assert.Equal(t, "2026-04-30", *posts[0].Date)
}

func TestPageContentTruncation(t *testing.T) {
	page := testPage(strings.Repeat("é", MaxBlogContent))
	content := pageContent(page, MaxBlogContent)
	assert.LessOrEqual(t, len(content), MaxBlogContent)
	assert.True(t, strings.HasSuffix(content, "é"), "cut on a rune boundary")

	withLinks := pageContent(testPage("text", types.Link{Text: "Post", Href: "https://x.example.com/p"}), 1000)
	assert.Contains(t, withLinks, "- Post -> https://x.example.com/p")
}

func TestRegexExtractorListings(t *testing.T) {
	text := "Featured cottages on Lake Rosseau. 1024 Windermere Road: 4 bedrooms, 3 baths, $2,450,000. " +
		strings.Repeat("filler ", 80) +
		"EXCLUSIVE off-market retreat on Lake Joseph, 3+1 bed, asking $1.9M. Also $2,450,000 again."

	records, err := NewRegexExtractor().ExtractListings(context.Background(), testPage(text))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "$2,450,000", *first.Price)
	assert.Equal(t, "Lake Rosseau", *first.Lake)
	assert.Equal(t, "1024 Windermere Road", *first.Address)
	assert.Equal(t, "4", *first.Bedrooms)
	assert.Equal(t, "3", *first.Bathrooms)
	assert.Nil(t, first.Exclusive, "no keyword leaves exclusivity unknown")
	assert.Nil(t, first.Waterfront)

	second := records[1]
	assert.Equal(t, "$1.9M", *second.Price)
	assert.Equal(t, "Lake Joseph", *second.Lake)
	assert.Equal(t, "3+1", *second.Bedrooms)
	assert.True(t, *second.Exclusive)
	assert.Nil(t, second.Waterfront)
}

func TestRegexExtractorNeedsALake(t *testing.T) {
	records, err := NewRegexExtractor().ExtractListings(context.Background(), testPage("Condo downtown, $450,000"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRegexExtractorBlogPosts(t *testing.T) {
	page := testPage("",
		types.Link{Text: "Spring  market   report 2026", Href: "https://b.example.com/blog/spring"},
		types.Link{Text: "Spring market report 2026", Href: "https://b.example.com/blog/spring"},
		types.Link{Text: "Blog", Href: "https://b.example.com/blog"},
		types.Link{Text: "Contact our friendly team", Href: "https://b.example.com/contact"},
	)
	posts, err := NewRegexExtractor().ExtractBlogPosts(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "Spring market report 2026", posts[0].Title)
}

func TestFallback(t *testing.T) {
	page := testPage("Lake Muskoka gem, $999,000")

	primaryErr := errors.New("anthropic API call failed: 503")
	ex := WithFallback(fakeAI("", primaryErr), NewRegexExtractor())
	records, err := ex.ExtractListings(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "$999,000", *records[0].Price)

	ok := WithFallback(fakeAI(`{"listings": [{"price": "$1"}]}`, nil), NewRegexExtractor())
	records, err = ok.ExtractListings(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "$1", *records[0].Price)
}

func TestBudgetExhaustedFallsBackToRegex(t *testing.T) {
	budget, err := cost.NewTracker(cost.Config{Enabled: true, MaxTokensPerRun: 100, AlertThreshold: 0.8})
	require.NoError(t, err)

	calls := 0
	ai := &AIExtractor{
		model:  "fake",
		budget: budget,
		complete: func(ctx context.Context, prompt string) (string, error) {
			calls++
			return `{"listings": [{"price": "$1"}]}`, nil
		},
	}

	ex := WithFallback(ai, NewRegexExtractor())
	page := testPage("Lake Joseph cottage, $1,200,000")

	records, err := ex.ExtractListings(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "$1", *records[0].Price)

	budget.RecordUsage(90, 10)
	records, err = ex.ExtractListings(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "$1,200,000", *records[0].Price)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(100), ai.Usage().InputTokens+ai.Usage().OutputTokens)

	reporter, ok := ex.(UsageReporter)
	require.True(t, ok)
	assert.Equal(t, cost.BudgetExceeded, reporter.Usage().Status)
}

func TestBlogExtractionRefusedWhenCostSpent(t *testing.T) {
	budget, err := cost.NewTracker(cost.Config{Enabled: true, MaxCostPerRun: 0.01, AlertThreshold: 0.8, InputTokenCost: 1})
	require.NoError(t, err)
	budget.RecordUsage(20_000, 0)

	ai := fakeAI(`{"posts": []}`, nil)
	ai.budget = budget
	_, err = ai.ExtractBlogPosts(context.Background(), testPage("..."))
	assert.ErrorIs(t, err, cost.ErrBudgetExceeded)

	assert.Equal(t, cost.Stats{}, (&AIExtractor{}).Usage())
}

func TestNewWithoutKeyUsesRegex(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	ex, err := New(DefaultConfig())
	require.NoError(t, err)
	_, isRegex := ex.(*RegexExtractor)
	assert.True(t, isRegex)

	_, err = New(Config{MaxTokens: 0})
	assert.Error(t, err)
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.DeadlineExceeded, true},
		{errors.New("POST: 429 Too Many Requests"), true},
		{errors.New("529 overloaded_error"), true},
		{errors.New("503 Service Unavailable"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("401 authentication_error"), false},
		{errors.New("400 invalid_request_error"), false},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetriableError(tt.err))
		})
	}
}

func TestCircuitBreakerTransitions(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, 10*time.Millisecond)
	require.NoError(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestRetrierRetriesTransientErrors(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = time.Millisecond
	cfg.Timeout = time.Second
	r := newRetrier(cfg)

	calls := 0
	err := r.do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = r.do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return errors.New("401 unauthorized")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retriable errors are not retried")
}
