package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spoton/recommendation-service/internal/domain"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"Ichiran Ramen", "ichiran ramen"},
		{"  Ichiran   Ramen \t", "ichiran ramen"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeName(tt.input), tt.input)
	}
}

func TestCanonicalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "lowercases host and scheme", input: "HTTPS://Example.COM/Menu", expected: "https://example.com/Menu"},
		{name: "adds root path", input: "https://example.com", expected: "https://example.com/"},
		{name: "drops fragment", input: "https://example.com/a#reviews", expected: "https://example.com/a"},
		{
			name:     "drops tracking params",
			input:    "https://example.com/a?utm_source=x&fbclid=1&id=7&REF=home",
			expected: "https://example.com/a?id=7",
		},
		{
			name:     "sorts params",
			input:    "https://example.com/a?b=2&a=1&a=0",
			expected: "https://example.com/a?a=0&a=1&b=2",
		},
		{name: "defaults scheme", input: "//example.com/x", expected: "https://example.com/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, CanonicalizeURL(tt.input))
		})
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "www.tripadvisor.com", Domain("https://WWW.TripAdvisor.com/x"))
	assert.Equal(t, "", Domain("::not a url"))
}

func TestIsSERPURL(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"https://www.google.com/search?q=ramen":     true,
		"https://google.com/maps/search/ramen":      true,
		"https://www.google.com/maps/place/Ichiran": false,
		"https://www.bing.com/search?q=ramen":       false,
		"https://ichiran.example/search":            false,
		"":                                          false,
	}
	for u, want := range tests {
		assert.Equal(t, want, IsSERPURL(u), u)
	}
}

func TestFilterSERP(t *testing.T) {
	t.Parallel()

	kept, dropped := FilterSERP([]domain.SearchResult{
		{URL: "https://www.google.com/search?q=x"},
		{URL: "https://a.example"},
		{URL: ""},
	})
	assert.Equal(t, 1, dropped)
	assert.Len(t, kept, 2)
}

func TestByURLAndTitle(t *testing.T) {
	t.Parallel()

	in := []domain.SearchResult{
		{Title: "Ichiran", URL: "https://ichiran.example/?utm_source=x", Score: 0.9},
		{Title: "ICHIRAN ", URL: "https://Ichiran.example/", Score: 0.5},
		{Title: "Ichiran menu", URL: "https://ichiran.example/", Score: 0.4},
		{Title: "No url", URL: "", Score: 1},
	}
	out := ByURLAndTitle(in)
	assert.Equal(t, []domain.SearchResult{in[0], in[2]}, out)
}

func TestTopByScore(t *testing.T) {
	t.Parallel()

	in := []domain.SearchResult{
		{Title: "a", Score: 0.1},
		{Title: "b", Score: 0.9},
		{Title: "c", Score: 0.5},
		{Title: "d", Score: 0.9},
	}
	out := TopByScore(in, 3)
	assert.Equal(t, []string{"b", "d", "c"}, titles(out))
	assert.Equal(t, "a", in[0].Title, "input must not be reordered")
	assert.Len(t, TopByScore(in, 10), 4)
}

func TestItems(t *testing.T) {
	t.Parallel()

	in := []domain.Restaurant{
		{ID: "1", Name: "Afuri", URL: "https://afuri.example"},
		{ID: "2", Name: "afuri", URL: "https://other.example"},
		{ID: "3", Name: "Afuri Harajuku", URL: "https://AFURI.example/"},
		{ID: "4", Name: "Ichiran", URL: "https://ichiran.example"},
		{ID: "5", Name: "Fuunji", URL: "https://fuunji.example"},
	}
	out := Items(in, 2)
	assert.Equal(t, []string{"1", "4"}, []string{out[0].ID, out[1].ID})
	assert.Len(t, Items(in, 0), 3)
}

func titles(rs []domain.SearchResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Title
	}
	return out
}
