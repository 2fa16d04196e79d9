// Package similarity holds the named scoring primitives the match resolver
// composes: string ratio, address similarity, numeric closeness and
// categorical equality. Every function returns a value in [0,1].
package similarity

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// HouseNumberPenalty scales address similarity when only one side carries a
// house number.
const HouseNumberPenalty = 0.9

// Address is a parsed, normalized street address.
type Address struct {
	Number string // leading house number, "" if absent
	Street string // street name through its type suffix, "" if absent
	Full   string // the whole normalized address
}

// StringRatio returns 1 - editDistance/maxLen over runes.
// Two empty strings are identical.
func StringRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1.0
	}
	d := levenshtein.ComputeDistance(a, b)
	return clamp01(1.0 - float64(d)/float64(maxLen))
}

// AddressSimilarity scores two parsed addresses.
//
// Different house numbers on the same street are different properties, so
// a number mismatch scores 0 no matter how similar the street is.
func AddressSimilarity(a, b Address) float64 {
	if a.Number != "" && b.Number != "" && a.Number != b.Number {
		return 0
	}

	var score float64
	if a.Street != "" && b.Street != "" {
		score = StringRatio(a.Street, b.Street)
	} else {
		score = StringRatio(a.Full, b.Full)
	}

	if (a.Number == "") != (b.Number == "") {
		score *= HouseNumberPenalty
	}
	return score
}

// NumericCloseness returns 1 minus the relative difference of a and b,
// clamped to [0,1]. Two zeros are identical.
func NumericCloseness(a, b int64) float64 {
	if a == b {
		return 1.0
	}
	abs := func(v int64) int64 {
		if v < 0 {
			return -v
		}
		return v
	}
	maxV := abs(a)
	if abs(b) > maxV {
		maxV = abs(b)
	}
	if maxV == 0 {
		return 1.0
	}
	return clamp01(1.0 - float64(abs(a-b))/float64(maxV))
}

// Equal is categorical equality: 1 when a == b, else 0.
func Equal[T comparable](a, b T) float64 {
	if a == b {
		return 1.0
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
