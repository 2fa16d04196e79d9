package match

import (
	"github.com/muskokacottagefinder/mcf/internal/fingerprint"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// Index buckets candidates by candidate key so a record is only scored
// against plausible listings.
//
// When a record's bucket is empty the index falls back to every candidate
// from the same domain. A typo in the street name changes the key, and the
// full scoring pass is still cheap at a single broker's scale.
type Index struct {
	buckets  map[string][]Candidate
	byDomain map[string][]Candidate
	size     int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		buckets:  make(map[string][]Candidate),
		byDomain: make(map[string][]Candidate),
	}
}

// IndexListings builds an index over listings in the given order.
func IndexListings(listings []*types.Listing) *Index {
	idx := NewIndex()
	for _, l := range listings {
		idx.Add(Candidate{Listing: l, Fingerprint: fingerprint.Build(*l.Record())})
	}
	return idx
}

// Add inserts a candidate. Insertion order is preserved within buckets.
func (idx *Index) Add(c Candidate) {
	key := c.Fingerprint.CandidateKey
	idx.buckets[key] = append(idx.buckets[key], c)
	idx.byDomain[c.Fingerprint.Domain] = append(idx.byDomain[c.Fingerprint.Domain], c)
	idx.size++
}

// Candidates returns the bucket for fp, or the same-domain candidates when
// the bucket is empty.
func (idx *Index) Candidates(fp fingerprint.Fingerprint) []Candidate {
	if bucket := idx.buckets[fp.CandidateKey]; len(bucket) > 0 {
		return bucket
	}
	return idx.byDomain[fp.Domain]
}

// Len returns the number of indexed candidates.
func (idx *Index) Len() int {
	return idx.size
}
