package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/muskokacottagefinder/mcf/internal/types"
)

var (
	priceRegex     = regexp.MustCompile(`\$\s?\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\$\s?\d+(?:\.\d+)?\s?(?:[mM]illion|[mMkK])\b`)
	lakeRegex      = regexp.MustCompile(`(?i)\blake\s+(muskoka|joseph|rosseau|of\s+bays|skeleton|peninsula|vernon|fairy|mary|kahshe)\b`)
	exclusiveRegex = regexp.MustCompile(`(?i)\b(exclusive|off[- ]market|pocket listing|private listing)\b`)
	bedroomsRegex  = regexp.MustCompile(`(?i)\b(\d{1,2}(?:\s*\+\s*\d)?)\s*(?:bed(?:room)?s?|bdrms?|br)\b`)
	bathroomsRegex = regexp.MustCompile(`(?i)\b(\d{1,2}(?:\.5)?)\s*(?:bath(?:room)?s?|ba)\b`)
	addressRegex   = regexp.MustCompile(`\b\d{1,5}\s+(?:[A-Z][A-Za-z'.]*\s+){1,4}(?:Road|Rd|Street|St|Lane|Ln|Drive|Dr|Avenue|Ave|Crescent|Cres|Trail|Trl|Way|Court|Ct|Boulevard|Blvd|Place|Pl|Circle|Cir)\b\.?`)
	blogHrefRegex  = regexp.MustCompile(`(?i)(blog|news|article|post)`)
)

const (
	// regexWindow is how many bytes around a price are searched for its
	// other fields
	regexWindow = 250

	maxRegexListings  = 50
	maxRegexBlogPosts = 10
)

// RegexExtractor finds listings by price mentions and blog posts by link
// shape. It never fails.
type RegexExtractor struct{}

// NewRegexExtractor creates a RegexExtractor.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// ExtractListings emits one record per distinct price on a page that
// mentions a known lake. Fields near the price are attached to it.
func (e *RegexExtractor) ExtractListings(_ context.Context, page *types.Page) ([]types.RawRecord, error) {
	text := page.Text
	pageLake := lakeRegex.FindString(text)
	if pageLake == "" {
		return nil, nil
	}

	var records []types.RawRecord
	seen := make(map[string]bool)
	for _, loc := range priceRegex.FindAllStringIndex(text, -1) {
		price := text[loc[0]:loc[1]]
		if seen[price] {
			continue
		}
		seen[price] = true

		start := max(0, loc[0]-regexWindow)
		end := min(len(text), loc[1]+regexWindow)
		window := text[start:end]

		lake := lakeRegex.FindString(window)
		if lake == "" {
			lake = pageLake
		}
		// Exclusive is only ever asserted; a page without the keyword says
		// nothing either way, and waterfront is never guessed.
		rec := types.RawRecord{
			SourceURL: page.URL,
			ScrapedAt: page.FetchedAt,
			Price:     ptr(price),
			Lake:      ptr(lake),
		}
		if exclusiveRegex.MatchString(window) {
			rec.Exclusive = ptr(true)
		}
		if addr := addressRegex.FindString(window); addr != "" {
			rec.Address = ptr(addr)
		}
		if m := bedroomsRegex.FindStringSubmatch(window); m != nil {
			rec.Bedrooms = ptr(m[1])
		}
		if m := bathroomsRegex.FindStringSubmatch(window); m != nil {
			rec.Bathrooms = ptr(m[1])
		}
		records = append(records, rec)
		if len(records) == maxRegexListings {
			break
		}
	}
	return records, nil
}

// ExtractBlogPosts returns links whose URL looks like a post.
func (e *RegexExtractor) ExtractBlogPosts(_ context.Context, page *types.Page) ([]types.RawBlogPost, error) {
	var posts []types.RawBlogPost
	seen := make(map[string]bool)
	for _, link := range page.Links {
		title := strings.Join(strings.Fields(link.Text), " ")
		if len(title) < 12 || !blogHrefRegex.MatchString(link.Href) || seen[link.Href] {
			continue
		}
		seen[link.Href] = true
		posts = append(posts, types.RawBlogPost{
			SourceURL: page.URL,
			PostURL:   link.Href,
			Title:     title,
		})
		if len(posts) == maxRegexBlogPosts {
			break
		}
	}
	return posts, nil
}

func ptr[T any](v T) *T { return &v }
