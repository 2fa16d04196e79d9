// Package classify turns a match result into a lifecycle transition with a
// field-level diff. Classify is pure: it performs no I/O and mutates nothing.
package classify

import (
	"fmt"

	"github.com/muskokacottagefinder/mcf/internal/match"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// Kind is the lifecycle transition of one record in one run.
// Delisted is not a Kind: the ledger's sweep assigns it to listings that
// received no record.
type Kind string

const (
	KindNew              Kind = "new"
	KindUnchanged        Kind = "unchanged"
	KindUpdated          Kind = "updated"
	KindExclusiveFlagged Kind = "exclusive_flagged"
)

// IsValid checks if the kind value is valid
func (k Kind) IsValid() bool {
	switch k {
	case KindNew, KindUnchanged, KindUpdated, KindExclusiveFlagged:
		return true
	}
	return false
}

// IsUpdate reports whether the kind replaces the listing's fields with a
// non-empty diff. ExclusiveFlagged is a specialization of Updated.
func (k Kind) IsUpdate() bool {
	return k == KindUpdated || k == KindExclusiveFlagged
}

// Classification is the verdict for one normalized record.
type Classification struct {
	Kind          Kind
	Record        *types.NormalizedRecord
	ListingID     string // empty for KindNew
	Score         float64
	LowConfidence bool
	Diff          []types.FieldChange
}

// Validate checks the classification is internally consistent
func (c Classification) Validate() error {
	if !c.Kind.IsValid() {
		return fmt.Errorf("invalid classification kind: %s", c.Kind)
	}
	if c.Record == nil {
		return fmt.Errorf("classification has no record")
	}
	if c.Kind == KindNew && c.ListingID != "" {
		return fmt.Errorf("new classification carries listing id %s", c.ListingID)
	}
	if c.Kind != KindNew && c.ListingID == "" {
		return fmt.Errorf("%s classification has no listing id", c.Kind)
	}
	if c.Kind.IsUpdate() && len(c.Diff) == 0 {
		return fmt.Errorf("%s classification has an empty diff", c.Kind)
	}
	if c.Kind == KindUnchanged && len(c.Diff) > 0 {
		return fmt.Errorf("unchanged classification has %d changes", len(c.Diff))
	}
	return nil
}

// Classify assigns the transition for rec given the resolver's result and
// the matched listing's current state (nil for NoMatch).
//
// A match whose fields all normalize identically is Unchanged, even when the
// raw text differs ("Rd" vs "Road"). Any field difference is Updated, and
// the exclusivity flag turning on is ExclusiveFlagged.
func Classify(res match.Result, rec *types.NormalizedRecord, current *types.Listing) (Classification, error) {
	if rec == nil {
		return Classification{}, fmt.Errorf("classify: nil record")
	}
	if err := res.Validate(); err != nil {
		return Classification{}, fmt.Errorf("classify: %w", err)
	}

	if !res.Matched {
		return Classification{Kind: KindNew, Record: rec}, nil
	}

	if current == nil {
		return Classification{}, fmt.Errorf("classify: matched listing %s not provided", res.ListingID)
	}
	if current.ID != res.ListingID {
		return Classification{}, fmt.Errorf("classify: matched listing %s but got state for %s", res.ListingID, current.ID)
	}

	c := Classification{
		Record:        rec,
		ListingID:     current.ID,
		Score:         res.Score,
		LowConfidence: res.LowConfidence,
		Diff:          types.DiffFields(current.Fields, rec.Fields),
	}

	switch {
	case len(c.Diff) == 0:
		c.Kind = KindUnchanged
	case !current.Fields.IsExclusive() && rec.Fields.IsExclusive():
		c.Kind = KindExclusiveFlagged
	default:
		c.Kind = KindUpdated
	}
	return c, nil
}
