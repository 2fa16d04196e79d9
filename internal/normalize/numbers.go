package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	priceNumberRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(million|mil|mm|m|k)?\b`)
	currencyRegex    = regexp.MustCompile(`(?i)\b(cad|usd|cdn)\b|c\$|us\$|\$`)
	bedroomsRegex    = regexp.MustCompile(`(\d+)(?:\s*\+\s*(\d+))?`)
	decimalRegex     = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// ParsePrice parses "$1,200,000", "1.2M", "$899K CAD" or the first figure of
// "$1.1M - $1.3M" into whole dollars. ok is false when no positive amount
// can be read.
func ParsePrice(raw string) (int64, bool) {
	s := strings.ToLower(raw)
	s = currencyRegex.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, ",", "")

	m := priceNumberRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "k":
		v *= 1_000
	case "m", "mm", "mil", "million":
		v *= 1_000_000
	}
	dollars := int64(math.Round(v))
	if dollars <= 0 {
		return 0, false
	}
	return dollars, true
}

// ParseBedrooms reads "4", "4 bed", "4+1" (summed to 5) or "four".
func ParseBedrooms(raw string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if m := bedroomsRegex.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		if m[2] != "" {
			extra, err := strconv.Atoi(m[2])
			if err != nil {
				return 0, false
			}
			n += extra
		}
		return n, true
	}
	for _, word := range strings.Fields(cleanText(s)) {
		if n, ok := numberWords[word]; ok {
			return n, true
		}
	}
	return 0, false
}

// ParseBathrooms reads the first number: "2.5", "3 baths", "2 full 1 half" -> 2.
func ParseBathrooms(raw string) (float64, bool) {
	m := decimalRegex.FindString(raw)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
