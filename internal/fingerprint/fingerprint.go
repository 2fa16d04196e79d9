// Package fingerprint derives the candidate key and similarity vector the
// match resolver uses to find and score candidate listings.
package fingerprint

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/muskokacottagefinder/mcf/internal/normalize"
	"github.com/muskokacottagefinder/mcf/internal/similarity"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

const missing = "?"

// Vector is the set of comparable normalized fields. Nil means missing.
type Vector struct {
	Address  *similarity.Address
	Price    *int64
	Bedrooms *int
	Lake     *string
}

// Comparable reports whether any scoring component is present.
func (v Vector) Comparable() bool {
	return v.Address != nil || v.Price != nil || v.Bedrooms != nil || v.Lake != nil
}

// Fingerprint is derived per run and never stored.
type Fingerprint struct {
	// CandidateKey buckets records for the resolver. It is a search hint,
	// not an identity.
	CandidateKey string
	Domain       string
	Vector       Vector
}

// Build derives the fingerprint of a normalized record.
//
// With an address the key is domain|number|street. Without one it falls back
// to domain|price|bedrooms so address-less listings still get a bucket.
func Build(rec types.NormalizedRecord) Fingerprint {
	domain := Domain(rec.SourceURL)
	f := rec.Fields

	vec := Vector{Price: f.Price, Bedrooms: f.Bedrooms, Lake: f.Lake}
	if f.Address != nil && *f.Address != "" {
		addr := ParseAddress(*f.Address)
		vec.Address = &addr
	}

	var key string
	if vec.Address != nil {
		street := vec.Address.Street
		if street == "" {
			street = vec.Address.Full
		}
		key = strings.Join([]string{domain, orMissing(vec.Address.Number), street}, "|")
	} else {
		price, beds := missing, missing
		if f.Price != nil {
			price = strconv.FormatInt(*f.Price, 10)
		}
		if f.Bedrooms != nil {
			beds = strconv.Itoa(*f.Bedrooms)
		}
		key = strings.Join([]string{domain, price, beds}, "|")
	}

	return Fingerprint{CandidateKey: key, Domain: domain, Vector: vec}
}

// ParseAddress splits a normalized address into house number and street.
// The street runs through the first street-type suffix, so a trailing town
// name ("... road port carling") is dropped. With no suffix every remaining
// token is the street.
func ParseAddress(address string) similarity.Address {
	number, rest := normalize.HouseNumber(address)
	streetTokens := rest
	for i, tok := range rest {
		if normalize.StreetSuffixes[tok] && i > 0 {
			streetTokens = rest[:i+1]
			break
		}
	}
	return similarity.Address{
		Number: number,
		Street: strings.Join(streetTokens, " "),
		Full:   address,
	}
}

// Domain returns the lowercased host of a source URL without "www.".
// Unparseable URLs are used verbatim.
func Domain(sourceURL string) string {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(strings.TrimSpace(sourceURL))
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func orMissing(s string) string {
	if s == "" {
		return missing
	}
	return s
}

// String renders the fingerprint for logs.
func (fp Fingerprint) String() string {
	return fmt.Sprintf("Fingerprint{key=%q}", fp.CandidateKey)
}
