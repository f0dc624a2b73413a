package parse

import (
	"net/url"
	"strconv"
	"strings"

	"adwatch/pkg/config"
)

// Normalizer canonicalizes marketplace search URLs into the one stable form
// used for repeated, paginated fetches. Pure and idempotent:
// Normalize(Normalize(x)) == Normalize(x) for any input.
type Normalizer struct {
	canonicalHost string
	hostVariants  map[string]bool
	pathRewrites  []config.PathRewrite
	pageParam     string
}

// NewNormalizer builds a Normalizer from the marketplace configuration.
func NewNormalizer(mp config.MarketplaceConfig, pageParam string) *Normalizer {
	variants := make(map[string]bool, len(mp.HostVariants)+1)
	variants[strings.ToLower(mp.CanonicalHost)] = true
	for _, h := range mp.HostVariants {
		variants[strings.ToLower(h)] = true
	}
	return &Normalizer{
		canonicalHost: mp.CanonicalHost,
		hostVariants:  variants,
		pathRewrites:  mp.PathRewrites,
		pageParam:     pageParam,
	}
}

// Normalize canonicalizes a marketplace URL: https scheme, canonical host,
// canonical path prefix, and no page/tracking query parameters. URLs that do
// not belong to a recognized marketplace host (malformed ones included) are
// returned unchanged.
func (n *Normalizer) Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if !n.hostVariants[strings.ToLower(u.Hostname())] {
		return raw
	}

	u.Scheme = "https"
	u.Host = n.canonicalHost

	for _, rw := range n.pathRewrites {
		if strings.HasPrefix(u.Path, rw.Prefix) {
			u.Path = rw.Replacement + strings.TrimPrefix(u.Path, rw.Prefix)
			break
		}
	}

	u.RawQuery = n.filterQuery(u.RawQuery)
	return u.String()
}

// filterQuery drops the page parameter and utm_* tracking parameters while
// preserving the remaining parameters and their original order. url.Values is
// deliberately avoided here: it would reorder parameters and break idempotence
// against the marketplace's canonical links.
func (n *Normalizer) filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	var kept []string
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
		}
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		key = strings.ToLower(key)
		if key == n.pageParam || strings.HasPrefix(key, "utm_") {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// WithPage returns the page-N form of a search URL. An existing pagination
// parameter is replaced in place; otherwise one is appended, so pre-existing
// query parameters are never reordered or dropped. Page 1 is the bare URL.
func (n *Normalizer) WithPage(searchURL string, page int) string {
	if page <= 1 {
		return searchURL
	}
	u, err := url.Parse(searchURL)
	if err != nil {
		return searchURL
	}

	pagePair := n.pageParam + "=" + strconv.Itoa(page)
	if u.RawQuery == "" {
		u.RawQuery = pagePair
		return u.String()
	}

	pairs := strings.Split(u.RawQuery, "&")
	replaced := false
	for i, pair := range pairs {
		key := pair
		if j := strings.IndexByte(pair, '='); j >= 0 {
			key = pair[:j]
		}
		if strings.EqualFold(key, n.pageParam) {
			pairs[i] = pagePair
			replaced = true
			break
		}
	}
	if !replaced {
		pairs = append(pairs, pagePair)
	}
	u.RawQuery = strings.Join(pairs, "&")
	return u.String()
}
