package dedup

import (
	"sort"

	"github.com/spoton/recommendation-service/internal/domain"
)

// FilterSERP drops search result pages and returns the kept results with the
// number dropped.
func FilterSERP(results []domain.SearchResult) ([]domain.SearchResult, int) {
	kept := make([]domain.SearchResult, 0, len(results))
	dropped := 0
	for _, r := range results {
		if r.URL != "" && IsSERPURL(r.URL) {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}

// ByURLAndTitle keeps the first result for each (canonical URL, normalized
// title) pair. Results without a URL are dropped.
func ByURLAndTitle(results []domain.SearchResult) []domain.SearchResult {
	type key struct{ url, title string }
	seen := make(map[key]bool, len(results))
	out := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		u := CanonicalizeURL(r.URL)
		if u == "" {
			continue
		}
		k := key{u, NormalizeName(r.Title)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// TopByScore returns the n highest scoring results. Ties keep input order.
func TopByScore(results []domain.SearchResult, n int) []domain.SearchResult {
	sorted := append([]domain.SearchResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Items keeps the first item for each normalized name and canonical URL and
// returns at most n of them.
func Items[T domain.Item](items []T, n int) []T {
	names := make(map[string]bool, len(items))
	urls := make(map[string]bool, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		name := NormalizeName(it.ItemName())
		u := CanonicalizeURL(it.ItemURL())
		if (name != "" && names[name]) || (u != "" && urls[u]) {
			continue
		}
		if name != "" {
			names[name] = true
		}
		if u != "" {
			urls[u] = true
		}
		out = append(out, it)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}
