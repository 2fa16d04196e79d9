package match

import (
	"fmt"
	"strings"

	"github.com/muskokacottagefinder/mcf/internal/fingerprint"
	"github.com/muskokacottagefinder/mcf/internal/similarity"
)

// Breakdown is a weighted similarity score with its components.
// A nil component was missing on at least one side and did not count.
type Breakdown struct {
	Address  *float64
	Price    *float64
	Bedrooms *float64
	Lake     *float64
	Total    float64

	// Coverage is the share of the total weight that was compared, 0 to 1.
	Coverage float64
}

// String renders the breakdown for logs.
func (b Breakdown) String() string {
	part := func(name string, v *float64) string {
		if v == nil {
			return name + "=-"
		}
		return fmt.Sprintf("%s=%.3f", name, *v)
	}
	return fmt.Sprintf("%.4f (%s coverage=%.2f)", b.Total, strings.Join([]string{
		part("address", b.Address),
		part("price", b.Price),
		part("bedrooms", b.Bedrooms),
		part("lake", b.Lake),
	}, " "), b.Coverage)
}

// Score computes the weighted similarity of two vectors. Components missing
// on either side are dropped and the remaining weights renormalized; with
// nothing comparable the score is 0. Coverage records how much weight the
// score rests on, so callers can refuse a perfect score built on one field.
func Score(a, b fingerprint.Vector, w Weights) Breakdown {
	var out Breakdown
	var sum, weight float64

	add := func(dst **float64, s, wt float64) {
		*dst = &s
		sum += s * wt
		weight += wt
	}

	if a.Address != nil && b.Address != nil {
		add(&out.Address, similarity.AddressSimilarity(*a.Address, *b.Address), w.Address)
	}
	if a.Price != nil && b.Price != nil {
		add(&out.Price, similarity.NumericCloseness(*a.Price, *b.Price), w.Price)
	}
	if a.Bedrooms != nil && b.Bedrooms != nil {
		add(&out.Bedrooms, similarity.Equal(*a.Bedrooms, *b.Bedrooms), w.Bedrooms)
	}
	if a.Lake != nil && b.Lake != nil {
		add(&out.Lake, similarity.Equal(*a.Lake, *b.Lake), w.Lake)
	}

	if weight > 0 {
		out.Total = sum / weight
	}
	if total := w.Sum(); total > 0 {
		out.Coverage = weight / total
	}
	return out
}
