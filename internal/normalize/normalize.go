// Package normalize canonicalizes raw extracted listing fields into
// comparable forms.
//
// Normalize is total: a value that cannot be parsed becomes missing and the
// occurrence is counted in Stats, it never fails the record. For a given
// Version the output is a pure function of the input.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/muskokacottagefinder/mcf/internal/types"
)

// Version identifies the canonical forms produced by this package. Bump it
// whenever any output changes so stored listings get re-normalized.
const Version = "v1.0.0"

// Stats counts unparseable values per field.
type Stats struct {
	Records     int
	Unparseable map[string]int
}

// String renders the counters as "records=12 price=1 bedrooms=2".
func (s Stats) String() string {
	parts := []string{fmt.Sprintf("records=%d", s.Records)}
	fields := make([]string, 0, len(s.Unparseable))
	for f := range s.Unparseable {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%d", f, s.Unparseable[f]))
	}
	return strings.Join(parts, " ")
}

// Normalizer maps RawRecords to NormalizedRecords.
type Normalizer struct {
	lakes *vocabulary

	mu    sync.Mutex
	stats Stats
}

// New creates a Normalizer from a validated config.
func New(cfg Config) (*Normalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid normalizer config: %w", err)
	}
	return &Normalizer{
		lakes: newVocabulary(cfg.Lakes, cfg.LakeThreshold),
		stats: Stats{Unparseable: make(map[string]int)},
	}, nil
}

// Normalize canonicalizes every present field of raw.
func (n *Normalizer) Normalize(raw types.RawRecord) types.NormalizedRecord {
	var f types.Fields
	var failed []string

	if raw.Address != nil {
		if v := NormalizeAddress(*raw.Address); v != "" {
			f.Address = &v
		} else {
			failed = append(failed, types.FieldAddress)
		}
	}
	if raw.Price != nil {
		if v, ok := ParsePrice(*raw.Price); ok {
			f.Price = &v
		} else {
			failed = append(failed, types.FieldPrice)
		}
	}
	if raw.Lake != nil {
		if v, ok := n.lakes.match(*raw.Lake); ok {
			f.Lake = &v
		} else {
			failed = append(failed, types.FieldLake)
		}
	}
	if raw.Bedrooms != nil {
		if v, ok := ParseBedrooms(*raw.Bedrooms); ok {
			f.Bedrooms = &v
		} else {
			failed = append(failed, types.FieldBedrooms)
		}
	}
	if raw.Bathrooms != nil {
		if v, ok := ParseBathrooms(*raw.Bathrooms); ok {
			f.Bathrooms = &v
		} else {
			failed = append(failed, types.FieldBathrooms)
		}
	}
	if raw.ListingType != nil {
		if v, ok := NormalizeListingType(*raw.ListingType); ok {
			f.ListingType = &v
		} else {
			failed = append(failed, types.FieldListingType)
		}
	}
	if raw.Exclusive != nil {
		v := *raw.Exclusive
		f.Exclusive = &v
	}
	if raw.Waterfront != nil {
		v := *raw.Waterfront
		f.Waterfront = &v
	}
	if raw.Description != nil {
		if v := collapseSpace(*raw.Description); v != "" {
			f.Description = &v
		}
	}
	if raw.ListingURL != nil {
		if v := strings.TrimSpace(*raw.ListingURL); v != "" {
			f.ListingURL = &v
		}
	}

	n.record(failed)

	rawCopy := raw
	return types.NormalizedRecord{
		SourceURL: raw.SourceURL,
		ScrapedAt: raw.ScrapedAt,
		Fields:    f,
		Raw:       &rawCopy,
	}
}

func (n *Normalizer) record(failed []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stats.Records++
	for _, field := range failed {
		n.stats.Unparseable[field]++
	}
}

// Stats returns a snapshot of the counters.
func (n *Normalizer) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := Stats{Records: n.stats.Records, Unparseable: make(map[string]int, len(n.stats.Unparseable))}
	for k, v := range n.stats.Unparseable {
		out.Unparseable[k] = v
	}
	return out
}

// ResetStats zeroes the counters.
func (n *Normalizer) ResetStats() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stats = Stats{Unparseable: make(map[string]int)}
}
