package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRestaurant_MissingAndMerge(t *testing.T) {
	r := Restaurant{ID: "r1", Name: "Mingles", URL: "https://mingles.kr", Cuisine: "Korean"}

	assert.ElementsMatch(t, []string{"operating_hours", "menu_url", "reservation_url", "price_range", "rating"}, r.MissingEnrichable())
	assert.Equal(t, []string{"price_range"}, r.MissingRequired())

	rating := 4.7
	merged := r.Merge(Enrichment{PriceRange: "$$$$", Cuisine: "French", Rating: &rating})
	assert.Equal(t, "$$$$", merged.PriceRange)
	assert.Equal(t, "Korean", merged.Cuisine, "existing values are never overwritten")
	assert.Equal(t, 4.7, *merged.Rating)
	assert.Empty(t, merged.MissingRequired())
	assert.Empty(t, r.PriceRange, "merge does not mutate the receiver")
}

func TestItems_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want []string
	}{
		{"attraction", Attraction{Name: "Gyeongbokgung", URL: "https://a"}, []string{"kind"}},
		{"hotel", Hotel{Name: "Shilla", URL: "https://h", PricePerNight: "$400"}, nil},
		{"car", CarRental{URL: "https://c"}, []string{"provider", "price_per_day"}},
		{"flight", Flight{Airline: "Korean Air", PriceRange: "$900"}, []string{"url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.MissingRequired())
			assert.LessOrEqual(t, len(tt.item.MissingEnrichable()), tt.item.EnrichableCount())
		})
	}
}

func TestHotel_MergeAmenities(t *testing.T) {
	h := Hotel{ID: "h1", Amenities: []string{"pool"}}
	assert.Equal(t, []string{"pool"}, h.Merge(Enrichment{Amenities: []string{"wifi"}}).Amenities)

	empty := Hotel{ID: "h2"}
	assert.Equal(t, []string{"wifi"}, empty.Merge(Enrichment{Amenities: []string{"wifi"}}).Amenities)
}

func TestEnrichment_IsEmpty(t *testing.T) {
	assert.True(t, Enrichment{}.IsEmpty())
	assert.False(t, Enrichment{Kind: "museum"}.IsEmpty())
}

func TestMainResults_Total(t *testing.T) {
	m := MainResults{Flights: []Flight{{}}, Hotels: []Hotel{{}, {}}}
	assert.Equal(t, 3, m.Total())
}
