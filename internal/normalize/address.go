package normalize

import (
	"strings"
	"unicode"
)

// abbreviations expands street and unit abbreviations token by token.
var abbreviations = map[string]string{
	"rd":    "road",
	"st":    "street",
	"str":   "street",
	"ave":   "avenue",
	"av":    "avenue",
	"dr":    "drive",
	"ln":    "lane",
	"cres":  "crescent",
	"cr":    "crescent",
	"ct":    "court",
	"crt":   "court",
	"blvd":  "boulevard",
	"hwy":   "highway",
	"pl":    "place",
	"pt":    "point",
	"trl":   "trail",
	"tr":    "trail",
	"cir":   "circle",
	"pkwy":  "parkway",
	"sq":    "square",
	"terr":  "terrace",
	"ter":   "terrace",
	"mt":    "mount",
	"twp":   "township",
	"isl":   "island",
	"apt":   "apartment",
	"ste":   "suite",
	"conc":  "concession",
	"sdrd":  "sideroad",
}

// StreetSuffixes are the canonical street-type words. The fingerprint
// builder cuts the street name after the first of these.
var StreetSuffixes = map[string]bool{
	"road": true, "street": true, "avenue": true, "drive": true, "lane": true,
	"crescent": true, "court": true, "boulevard": true, "highway": true,
	"place": true, "point": true, "trail": true, "circle": true, "parkway": true,
	"square": true, "terrace": true, "way": true, "line": true, "sideroad": true,
	"concession": true,
}

// NormalizeAddress canonicalizes a free-text address. It returns "" when
// nothing usable remains.
func NormalizeAddress(raw string) string {
	cleaned := cleanText(raw)
	if cleaned == "" {
		return ""
	}

	tokens := strings.Fields(cleaned)
	for i, tok := range tokens {
		// "12 St Andrews Rd": st right after the house number, with more to
		// follow, is a saint name rather than a street type.
		if tok == "st" && i == 1 && isHouseNumber(tokens[0]) && len(tokens) > 2 {
			tokens[i] = "saint"
			continue
		}
		if full, ok := abbreviations[tok]; ok {
			tokens[i] = full
		}
	}
	return strings.Join(tokens, " ")
}

// isHouseNumber reports whether tok starts with a digit ("12", "12a").
func isHouseNumber(tok string) bool {
	for _, r := range tok {
		return unicode.IsDigit(r)
	}
	return false
}

// HouseNumber returns the leading house number of a normalized address and
// the remaining tokens.
func HouseNumber(address string) (string, []string) {
	tokens := strings.Fields(address)
	if len(tokens) == 0 {
		return "", nil
	}
	if isHouseNumber(tokens[0]) {
		return tokens[0], tokens[1:]
	}
	return "", tokens
}
