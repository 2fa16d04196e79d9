// Package match resolves a fresh record's fingerprint against the listings
// already in the ledger and decides which one, if any, it is.
package match

import (
	"fmt"
	"log"
	"sort"

	"github.com/muskokacottagefinder/mcf/internal/fingerprint"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// scoreEpsilon absorbs float rounding in the weighted sum so a score that is
// exactly the threshold on paper is eligible.
const scoreEpsilon = 1e-9

// Candidate is an existing listing with its fingerprint.
type Candidate struct {
	Listing     *types.Listing
	Fingerprint fingerprint.Fingerprint
}

// Result is the resolver's verdict: NoMatch (Matched=false) or
// Matched(ListingID, Score).
type Result struct {
	Matched   bool
	ListingID string
	Score     float64
	Breakdown Breakdown

	// LowConfidence is set when the runner-up eligible candidate scored
	// within the ambiguity margin of the winner.
	LowConfidence bool
	RunnerUpID    string
	RunnerUpScore float64

	// Compared is how many candidates were scored.
	Compared int
}

// NoMatch returns the empty result.
func NoMatch(compared int) Result {
	return Result{Compared: compared}
}

// Validate checks the result is internally consistent
func (r Result) Validate() error {
	if r.Matched && r.ListingID == "" {
		return fmt.Errorf("matched result has no listing id")
	}
	if !r.Matched && r.ListingID != "" {
		return fmt.Errorf("unmatched result carries listing id %s", r.ListingID)
	}
	if r.Score < 0 || r.Score > 1 {
		return fmt.Errorf("score must be between 0.0 and 1.0 (got %.4f)", r.Score)
	}
	return nil
}

// String renders the result for logs.
func (r Result) String() string {
	if !r.Matched {
		return fmt.Sprintf("NoMatch(compared=%d)", r.Compared)
	}
	return fmt.Sprintf("Matched(%s, %.4f)", r.ListingID, r.Score)
}

// Resolver scores candidates and picks the best match above the threshold.
type Resolver struct {
	config Config
}

// NewResolver creates a resolver from a validated config.
func NewResolver(cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid match config: %w", err)
	}
	return &Resolver{config: cfg}, nil
}

// Config returns the resolver's configuration.
func (r *Resolver) Config() Config {
	return r.config
}

// Identifiable reports whether fp carries enough weight on its own to ever
// match a listing. A record that cannot be identified would only add a new
// listing every run.
func (r *Resolver) Identifiable(fp fingerprint.Fingerprint) bool {
	return Score(fp.Vector, fp.Vector, r.config.Weights).Coverage+scoreEpsilon >= r.config.MinCoverage
}

type scored struct {
	cand      Candidate
	breakdown Breakdown
}

// Resolve scores fp against every candidate and returns the best eligible
// one. A candidate is eligible when its score reaches the threshold and the
// compared components carry at least MinCoverage of the weight. Among equal
// scores the listing seen most recently wins, then the smallest ID, so the
// result never depends on candidate order.
func (r *Resolver) Resolve(fp fingerprint.Fingerprint, candidates []Candidate) Result {
	var eligible []scored
	for _, c := range candidates {
		if c.Listing == nil {
			continue
		}
		b := Score(fp.Vector, c.Fingerprint.Vector, r.config.Weights)
		if b.Coverage+scoreEpsilon < r.config.MinCoverage {
			continue
		}
		if b.Total+scoreEpsilon >= r.config.Threshold {
			eligible = append(eligible, scored{cand: c, breakdown: b})
		}
	}

	if len(eligible) == 0 {
		return NoMatch(len(candidates))
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.breakdown.Total != b.breakdown.Total {
			return a.breakdown.Total > b.breakdown.Total
		}
		if a.cand.Listing.LastSeenRun != b.cand.Listing.LastSeenRun {
			return a.cand.Listing.LastSeenRun > b.cand.Listing.LastSeenRun
		}
		return a.cand.Listing.ID < b.cand.Listing.ID
	})

	best := eligible[0]
	res := Result{
		Matched:   true,
		ListingID: best.cand.Listing.ID,
		Score:     clampScore(best.breakdown.Total),
		Breakdown: best.breakdown,
		Compared:  len(candidates),
	}

	if len(eligible) > 1 {
		runner := eligible[1]
		res.RunnerUpID = runner.cand.Listing.ID
		res.RunnerUpScore = clampScore(runner.breakdown.Total)
		if best.breakdown.Total-runner.breakdown.Total <= r.config.AmbiguityMargin+scoreEpsilon {
			res.LowConfidence = true
			log.Printf("[MATCH] low-confidence match for %s: %s scored %s, runner-up %s scored %s",
				fp.CandidateKey, res.ListingID, best.breakdown, res.RunnerUpID, runner.breakdown)
		}
	}

	return res
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
