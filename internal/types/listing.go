package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawRecord is one extracted guess for one listing on one page at one point in time.
// Every field except SourceURL may be absent.
type RawRecord struct {
	SourceURL   string    `json:"source_url"`
	ScrapedAt   time.Time `json:"scraped_at"`
	Address     *string   `json:"address,omitempty"`
	Price       *string   `json:"price,omitempty"`
	Lake        *string   `json:"lake,omitempty"`
	Bedrooms    *string   `json:"bedrooms,omitempty"`
	Bathrooms   *string   `json:"bathrooms,omitempty"`
	ListingType *string   `json:"listing_type,omitempty"`
	Exclusive   *bool     `json:"exclusive,omitempty"`
	Waterfront  *bool     `json:"waterfront,omitempty"`
	Description *string   `json:"description,omitempty"`
	ListingURL  *string   `json:"listing_url,omitempty"`
}

// Fields is the canonical form of a listing's comparable values.
// A nil pointer means the value was missing or could not be parsed.
type Fields struct {
	Address     *string  `json:"address,omitempty"`
	Price       *int64   `json:"price,omitempty"` // whole dollars
	Lake        *string  `json:"lake,omitempty"`  // vocabulary name or "other:<text>"
	Bedrooms    *int     `json:"bedrooms,omitempty"`
	Bathrooms   *float64 `json:"bathrooms,omitempty"`
	ListingType *string  `json:"listing_type,omitempty"`
	Exclusive   *bool    `json:"exclusive,omitempty"`
	Waterfront  *bool    `json:"waterfront,omitempty"`
	Description *string  `json:"description,omitempty"`
	ListingURL  *string  `json:"listing_url,omitempty"`
}

// Field names used in diffs and reports, in display order.
const (
	FieldAddress     = "address"
	FieldPrice       = "price"
	FieldLake        = "lake"
	FieldBedrooms    = "bedrooms"
	FieldBathrooms   = "bathrooms"
	FieldListingType = "listing_type"
	FieldExclusive   = "exclusive"
	FieldWaterfront  = "waterfront"
	FieldDescription = "description"
	FieldListingURL  = "listing_url"
)

// FieldNames lists every field of Fields in a stable order.
var FieldNames = []string{
	FieldAddress, FieldPrice, FieldLake, FieldBedrooms, FieldBathrooms,
	FieldListingType, FieldExclusive, FieldWaterfront, FieldDescription, FieldListingURL,
}

// Render returns the canonical string form of the named field and whether it is present.
func (f Fields) Render(name string) (string, bool) {
	switch name {
	case FieldAddress:
		return strPtr(f.Address)
	case FieldPrice:
		if f.Price == nil {
			return "", false
		}
		return strconv.FormatInt(*f.Price, 10), true
	case FieldLake:
		return strPtr(f.Lake)
	case FieldBedrooms:
		if f.Bedrooms == nil {
			return "", false
		}
		return strconv.Itoa(*f.Bedrooms), true
	case FieldBathrooms:
		if f.Bathrooms == nil {
			return "", false
		}
		return strconv.FormatFloat(*f.Bathrooms, 'f', -1, 64), true
	case FieldListingType:
		return strPtr(f.ListingType)
	case FieldExclusive:
		return boolPtr(f.Exclusive)
	case FieldWaterfront:
		return boolPtr(f.Waterfront)
	case FieldDescription:
		return strPtr(f.Description)
	case FieldListingURL:
		return strPtr(f.ListingURL)
	}
	return "", false
}

// IsExclusive reports whether the exclusivity flag is present and set.
func (f Fields) IsExclusive() bool {
	return f.Exclusive != nil && *f.Exclusive
}

// Empty reports whether no field is present.
func (f Fields) Empty() bool {
	for _, name := range FieldNames {
		if _, ok := f.Render(name); ok {
			return false
		}
	}
	return true
}

func strPtr(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

func boolPtr(b *bool) (string, bool) {
	if b == nil {
		return "", false
	}
	return strconv.FormatBool(*b), true
}

// NormalizedRecord is a RawRecord after canonicalization.
type NormalizedRecord struct {
	SourceURL string     `json:"source_url"`
	ScrapedAt time.Time  `json:"scraped_at"`
	Fields    Fields     `json:"fields"`
	Raw       *RawRecord `json:"raw,omitempty"`
}

// FieldChange is one changed field inside a diff. Old/New are nil when the
// value was missing on that side.
type FieldChange struct {
	Field string  `json:"field"`
	Old   *string `json:"old,omitempty"`
	New   *string `json:"new,omitempty"`
}

// String renders the change as "field: old -> new".
func (c FieldChange) String() string {
	render := func(v *string) string {
		if v == nil {
			return "(missing)"
		}
		return *v
	}
	return fmt.Sprintf("%s: %s -> %s", c.Field, render(c.Old), render(c.New))
}

// DiffFields returns the field-level changes from old to new, in FieldNames order.
func DiffFields(old, new Fields) []FieldChange {
	var changes []FieldChange
	for _, name := range FieldNames {
		ov, oOK := old.Render(name)
		nv, nOK := new.Render(name)
		if oOK == nOK && ov == nv {
			continue
		}
		change := FieldChange{Field: name}
		if oOK {
			change.Old = &ov
		}
		if nOK {
			change.New = &nv
		}
		changes = append(changes, change)
	}
	return changes
}

// ListingStatus is the lifecycle state of a Listing
type ListingStatus string

const (
	StatusActive    ListingStatus = "active"
	StatusExclusive ListingStatus = "exclusive"
	StatusDelisted  ListingStatus = "delisted"
)

// IsValid checks if the status value is valid
func (s ListingStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusExclusive, StatusDelisted:
		return true
	}
	return false
}

// StatusFor returns the live status implied by a field set.
func StatusFor(f Fields) ListingStatus {
	if f.IsExclusive() {
		return StatusExclusive
	}
	return StatusActive
}

// HistoryKind tags an entry in a Listing's history
type HistoryKind string

const (
	HistoryNew       HistoryKind = "new"
	HistoryUpdated   HistoryKind = "updated"
	HistoryExclusive HistoryKind = "exclusive"
	HistoryDelisted  HistoryKind = "delisted"
	HistoryRelisted  HistoryKind = "relisted"

	// HistoryRenormalized carries the field changes made by re-normalizing
	// the stored raw record after a normalizer upgrade.
	HistoryRenormalized HistoryKind = "renormalized"
)

// HistoryEntry records what happened to a listing in one run.
type HistoryEntry struct {
	RunID int64         `json:"run_id"`
	Kind  HistoryKind   `json:"kind"`
	Diff  []FieldChange `json:"diff,omitempty"`
}

// Listing is the durable identity of one property as tracked across runs.
type Listing struct {
	ID           string         `json:"id"`
	SourceURL    string         `json:"source_url"`
	Fields       Fields         `json:"fields"`
	Raw          *RawRecord     `json:"raw,omitempty"`
	FirstSeenRun int64          `json:"first_seen_run"`
	LastSeenRun  int64          `json:"last_seen_run"`
	Status       ListingStatus  `json:"status"`
	MissedRuns   int            `json:"missed_runs"`
	History      []HistoryEntry `json:"history,omitempty"`
}

// Validate checks if the listing has valid field values
func (l *Listing) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("listing id is required")
	}
	if strings.TrimSpace(l.SourceURL) == "" {
		return fmt.Errorf("source_url is required")
	}
	if !l.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", l.Status)
	}
	if l.FirstSeenRun <= 0 {
		return fmt.Errorf("first_seen_run must be positive (got %d)", l.FirstSeenRun)
	}
	if l.LastSeenRun < l.FirstSeenRun {
		return fmt.Errorf("last_seen_run (%d) cannot precede first_seen_run (%d)", l.LastSeenRun, l.FirstSeenRun)
	}
	if l.MissedRuns < 0 {
		return fmt.Errorf("missed_runs cannot be negative (got %d)", l.MissedRuns)
	}
	return nil
}

// Record returns the listing's current state as a NormalizedRecord.
func (l *Listing) Record() *NormalizedRecord {
	return &NormalizedRecord{SourceURL: l.SourceURL, Fields: l.Fields, Raw: l.Raw}
}

// Clone returns a deep-enough copy for in-run mutation: the History slice is
// copied, field pointers are shared because values are never mutated in place.
func (l *Listing) Clone() *Listing {
	c := *l
	c.History = append([]HistoryEntry(nil), l.History...)
	return &c
}

// ListingFilter selects listings for queries.
type ListingFilter struct {
	Status    ListingStatus // empty = any
	SourceURL string        // empty = any
	Lake      string        // case-insensitive substring of the lake field
	Limit     int           // 0 = unlimited
}
