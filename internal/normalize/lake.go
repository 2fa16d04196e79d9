package normalize

import (
	"strings"

	"github.com/muskokacottagefinder/mcf/internal/similarity"
)

// OtherPrefix marks lake and listing-type values outside the vocabulary.
const OtherPrefix = "other:"

type lakeTerm struct {
	key  string // cleaned name or alias
	name string // canonical vocabulary name
}

// vocabulary matches free text onto canonical lake names.
type vocabulary struct {
	terms     []lakeTerm
	threshold float64
}

func newVocabulary(lakes []Lake, threshold float64) *vocabulary {
	v := &vocabulary{threshold: threshold}
	for _, lake := range lakes {
		v.terms = append(v.terms, lakeTerm{key: cleanText(lake.Name), name: lake.Name})
		for _, alias := range lake.Aliases {
			v.terms = append(v.terms, lakeTerm{key: cleanText(alias), name: lake.Name})
		}
	}
	return v
}

// match returns the canonical lake for text, or OtherPrefix+text when no
// term scores at or above the threshold. Ties keep vocabulary order.
func (v *vocabulary) match(raw string) (string, bool) {
	text := cleanText(raw)
	if text == "" {
		return "", false
	}

	best, bestScore := "", 0.0
	for _, term := range v.terms {
		score := similarity.StringRatio(text, term.key)
		if score < v.threshold && containsPhrase(text, term.key) {
			// "waterfront on lake rosseau near windermere"
			score = v.threshold
		}
		if score > bestScore {
			best, bestScore = term.name, score
		}
	}
	if best != "" && bestScore >= v.threshold {
		return best, true
	}
	return OtherPrefix + text, true
}

// containsPhrase reports whether phrase occurs in text on token boundaries.
// Single-word aliases are only matched exactly, so "muskoka" inside a
// longer phrase does not claim every listing in the district.
func containsPhrase(text, phrase string) bool {
	if !strings.Contains(phrase, " ") {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

var listingTypes = []struct {
	canonical string
	keywords  []string
}{
	{"cottage", []string{"cottage", "cabin", "chalet", "bunkie", "camp"}},
	{"condo", []string{"condo", "condominium", "townhouse", "townhome", "apartment"}},
	{"land", []string{"land", "lot", "acreage", "acres", "vacant"}},
	{"commercial", []string{"commercial", "resort", "marina", "lodge", "business"}},
	{"house", []string{"house", "home", "residential", "detached", "bungalow", "residence"}},
}

// NormalizeListingType maps free text onto cottage/condo/land/commercial/house,
// or OtherPrefix+text.
func NormalizeListingType(raw string) (string, bool) {
	text := cleanText(raw)
	if text == "" {
		return "", false
	}
	tokens := strings.Fields(text)
	for _, lt := range listingTypes {
		for _, kw := range lt.keywords {
			for _, tok := range tokens {
				if tok == kw {
					return lt.canonical, true
				}
			}
		}
	}
	return OtherPrefix + text, true
}
