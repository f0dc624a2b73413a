package parse

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"adwatch/pkg/config"
)

// PriceParser extracts a plausible integer price from unstructured listing
// text. Two-tier strategy: a grouped-digit number immediately followed by a
// known currency marker wins; only if no such match exists does it fall back
// to the first bare 2-7 digit run. Currency-anchored matches are far less
// likely to misfire on dates or counts embedded in the card text.
type PriceParser struct {
	anchored *regexp.Regexp
	bare     *regexp.Regexp
	markers  map[string]string
	minPrice int64
	maxPrice int64
}

var groupSeparators = strings.NewReplacer(
	" ", "",
	" ", "", // no-break space
	" ", "", // narrow no-break space
	",", "",
	".", "",
)

// NewPriceParser compiles the matching machinery from configuration.
func NewPriceParser(markers map[string]string, price config.PriceConfig) *PriceParser {
	// Longer markers first so "uah" is tried before "u" would ever match
	keys := make([]string, 0, len(markers))
	for k := range markers {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	markerAlt := strings.Join(keys, "|")
	// A grouped-digit number (12 500, 12.500, 12,500 or plain 12500)
	// immediately followed by a currency marker.
	anchored := regexp.MustCompile(`(?i)(\d{1,3}(?:[ \x{00A0}\x{202F}.,]\d{3})*|\d+)\s*(` + markerAlt + `)`)

	return &PriceParser{
		anchored: anchored,
		bare:     regexp.MustCompile(`\d[\d \x{00A0}\x{202F}]{0,14}`),
		markers:  lowerKeys(markers),
		minPrice: price.MinPlausible,
		maxPrice: price.MaxPlausible,
	}
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Parse extracts a price and its currency from text. ok is false when no
// number was found or the value fell outside the plausibility window.
func (p *PriceParser) Parse(text string) (value int64, currency string, ok bool) {
	if m := p.anchored.FindStringSubmatch(text); m != nil {
		v, err := strconv.ParseInt(groupSeparators.Replace(m[1]), 10, 64)
		if err == nil && p.plausible(v) {
			return v, p.markers[strings.ToLower(m[2])], true
		}
		// An anchored match with an implausible value falls through to the
		// bare scan; the card may carry the real price elsewhere
	}

	for _, m := range p.bare.FindAllString(text, -1) {
		digits := groupSeparators.Replace(m)
		if len(digits) < 2 || len(digits) > 7 {
			continue
		}
		v, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			continue
		}
		if p.plausible(v) {
			return v, "", true
		}
	}
	return 0, "", false
}

func (p *PriceParser) plausible(v int64) bool {
	return v >= p.minPrice && v <= p.maxPrice
}
