// Package dedup collapses duplicate search results and recommendation items
// by canonical URL and normalized name.
package dedup

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// trackingKeys are query parameters that never change the page content.
var trackingKeys = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"igshid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
	"mkt_tok": true,
	"msclkid": true,
	"ref":     true,
	"ref_src": true,
}

// NormalizeName lowercases name and collapses whitespace.
func NormalizeName(name string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), " ")
}

// CanonicalizeURL returns a stable form of raw for duplicate detection: the
// scheme and host are lowercased, the fragment is dropped, tracking and
// utm_* parameters are removed, and the remaining parameters are sorted.
// Unparseable input is returned unchanged and empty input stays empty.
func CanonicalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	type pair struct{ k, v string }
	var kept []pair
	for key, values := range u.Query() {
		k := strings.TrimSpace(key)
		lk := strings.ToLower(k)
		if k == "" || strings.HasPrefix(lk, "utm_") || trackingKeys[lk] {
			continue
		}
		for _, v := range values {
			kept = append(kept, pair{k, v})
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		li, lj := strings.ToLower(kept[i].k), strings.ToLower(kept[j].k)
		if li != lj {
			return li < lj
		}
		return kept[i].v < kept[j].v
	})

	out := scheme + "://" + strings.ToLower(u.Host) + path
	if len(kept) > 0 {
		q := make([]string, 0, len(kept))
		for _, p := range kept {
			q = append(q, url.QueryEscape(p.k)+"="+url.QueryEscape(p.v))
		}
		out += "?" + strings.Join(q, "&")
	}
	return out
}

// Domain returns the lowercased host of raw, or "" when it cannot be parsed.
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// IsSERPURL reports whether raw is a generic search results page rather than
// a page about a single place.
func IsSERPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	if !strings.HasSuffix(host, "google.com") {
		return false
	}
	return strings.HasPrefix(u.Path, "/search") || strings.HasPrefix(u.Path, "/maps/search")
}
