package agents

import (
	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/workflow"
)

// normalized holds the structured items of every category.
type normalized struct {
	Restaurants []domain.Restaurant
	Attractions []domain.Attraction
	Hotels      []domain.Hotel
	CarRentals  []domain.CarRental
	Flights     []domain.Flight
}

func normalizedFrom(v workflow.View) normalized {
	return normalized{
		Restaurants: workflow.Value[[]domain.Restaurant](v, FieldRestaurants),
		Attractions: workflow.Value[[]domain.Attraction](v, FieldTravelSpots),
		Hotels:      workflow.Value[[]domain.Hotel](v, FieldHotels),
		CarRentals:  workflow.Value[[]domain.CarRental](v, FieldCarRentals),
		Flights:     workflow.Value[[]domain.Flight](v, FieldFlights),
	}
}

// merge returns a copy with enrichment applied to every item.
func (n normalized) merge(enriched domain.EnrichedData) normalized {
	out := normalized{
		Restaurants: make([]domain.Restaurant, len(n.Restaurants)),
		Attractions: make([]domain.Attraction, len(n.Attractions)),
		Hotels:      make([]domain.Hotel, len(n.Hotels)),
		CarRentals:  make([]domain.CarRental, len(n.CarRentals)),
		Flights:     make([]domain.Flight, len(n.Flights)),
	}
	for i, it := range n.Restaurants {
		out.Restaurants[i] = it.Merge(enriched[it.ID])
	}
	for i, it := range n.Attractions {
		out.Attractions[i] = it.Merge(enriched[it.ID])
	}
	for i, it := range n.Hotels {
		out.Hotels[i] = it.Merge(enriched[it.ID])
	}
	for i, it := range n.CarRentals {
		out.CarRentals[i] = it.Merge(enriched[it.ID])
	}
	for i, it := range n.Flights {
		out.Flights[i] = it.Merge(enriched[it.ID])
	}
	return out
}

// items lists every item in presentation order.
func (n normalized) items() []domain.Item {
	out := make([]domain.Item, 0, len(n.Restaurants)+len(n.Attractions)+len(n.Hotels)+len(n.CarRentals)+len(n.Flights))
	for _, it := range n.Flights {
		out = append(out, it)
	}
	for _, it := range n.CarRentals {
		out = append(out, it)
	}
	for _, it := range n.Hotels {
		out = append(out, it)
	}
	for _, it := range n.Restaurants {
		out = append(out, it)
	}
	for _, it := range n.Attractions {
		out = append(out, it)
	}
	return out
}

// GapRatio is the fraction of enrichable fields still empty across items.
// It is 0 when there is nothing to enrich.
func GapRatio(items []domain.Item) float64 {
	total, missing := 0, 0
	for _, it := range items {
		total += it.EnrichableCount()
		missing += len(it.MissingEnrichable())
	}
	if total == 0 {
		return 0
	}
	return float64(missing) / float64(total)
}
