package agents

import (
	"fmt"
	"strings"

	"github.com/spoton/recommendation-service/internal/domain"
)

func parsePrompt(year int) string {
	return fmt.Sprintf(`You turn a traveller's request into structured trip constraints.

Return a JSON object with:
- origin: departure city, with the airport code in parentheses when stated (e.g. "Los Angeles (LAX)")
- destination: arrival city, same format
- departing_date: YYYY-MM-DD; assume %d when the year is missing
- returning_date: YYYY-MM-DD, or null for a one-way trip
- interests: list of stated interests such as "food" or "museums"; empty when none
- budget: one of "budget", "moderate", "luxury"; "moderate" when not stated

Never invent airport codes.`, year)
}

// normalizeSpec describes how one category is normalized.
type normalizeSpec struct {
	category domain.Category
	field    string
	noun     string
	fields   string
}

var (
	restaurantSpec = normalizeSpec{
		category: domain.CategoryRestaurant,
		field:    FieldRestaurants,
		noun:     "restaurant",
		fields: `- name: exact restaurant name
- cuisine: standard label such as "Italian" or "Seafood"; null if not stated
- area: neighbourhood or district; null if not stated
- price_range: one of "$", "$$", "$$$", "$$$$"; null if unknown
- url: the source URL copied verbatim
- snippet: one or two factual sentences from the source
- why_recommended: one or two sentences on why a visitor should go
- tags: two to four of michelin-star, local-favorite, vegetarian-friendly, late-night, iconic, hidden-gem, family-friendly, date-spot, quick-bite`,
	}
	attractionSpec = normalizeSpec{
		category: domain.CategoryAttraction,
		field:    FieldTravelSpots,
		noun:     "attraction",
		fields: `- name: exact name
- kind: one of museum, park, landmark, temple, shrine, market, district, beach, garden, viewpoint, palace, other; null if unclear
- area: neighbourhood or district; null if not stated
- url: the source URL copied verbatim
- snippet: one or two factual sentences from the source
- why_recommended: why a first-time visitor should go
- estimated_duration_min: visit length in minutes`,
	}
	hotelSpec = normalizeSpec{
		category: domain.CategoryHotel,
		field:    FieldHotels,
		noun:     "hotel",
		fields: `- name: exact hotel name
- area: neighbourhood or district; null if not stated
- price_per_night: nightly rate in USD as a number string such as "150"; null if unknown
- url: the source URL copied verbatim
- snippet: one or two factual sentences from the source
- why_recommended: why it suits a visitor, mentioning the location
- amenities: confirmed amenities only, from wifi, pool, gym, breakfast-included, parking, spa, restaurant, airport-shuttle, pet-friendly`,
	}
	carSpec = normalizeSpec{
		category: domain.CategoryCar,
		field:    FieldCarRentals,
		noun:     "car rental",
		fields: `- provider: rental company name
- vehicle_class: such as "economy" or "SUV"; null if unknown
- price_per_day: daily rate in USD as a number string; null if unknown
- pickup_location: pickup address or airport; null if unknown
- operating_hours: counter opening hours; null if unknown
- url: the source URL copied verbatim
- why_recommended: one sentence`,
	}
	flightSpec = normalizeSpec{
		category: domain.CategoryFlight,
		field:    FieldFlights,
		noun:     "flight",
		fields: `- airline: operating airline; null if the page is an aggregator without one
- route: "ORIGIN -> DESTINATION"
- price_range: fare range in USD such as "$350-$500"; null if unknown
- url: the source URL copied verbatim
- snippet: one or two factual sentences from the source
- why_recommended: one sentence`,
	}
)

func normalizePrompt(spec normalizeSpec, qc domain.QueryContext, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You normalize %s search results for %s into structured records.\n\n", spec.noun, qc.DestinationCity)
	fmt.Fprintf(&b, "Return a JSON object {\"items\": [...]} with exactly %d items, one per search result, in input order. Do not merge, drop or invent items.\n\n", count)
	switch spec.category {
	case domain.CategoryHotel:
		fmt.Fprintf(&b, "Check-in %s, check-out %s, %d nights.\n\n", qc.DepartingDate, orNotSpecified(qc.ReturningDate), qc.StayNights)
	case domain.CategoryCar:
		fmt.Fprintf(&b, "Pickup %s, return %s.\n\n", qc.DepartingDate, orNotSpecified(qc.ReturningDate))
	case domain.CategoryFlight:
		fmt.Fprintf(&b, "Trip: %s to %s, %s, departing %s, returning %s.\n\n",
			placeCode(qc.OriginCode, qc.OriginCity), placeCode(qc.DestinationCode, qc.DestinationCity),
			qc.TripType, qc.DepartingDate, orNotSpecified(qc.ReturningDate))
	}
	b.WriteString("Fields:\n")
	b.WriteString(spec.fields)
	b.WriteString("\n\nWhen you are less than 80% sure of a value, use null.")
	return b.String()
}

// enrichPrompt asks for the enrichable fields of one item category.
func enrichPrompt(category domain.Category) string {
	var hint string
	switch category {
	case domain.CategoryRestaurant:
		hint = "operating_hours, menu_url, reservation_url, price_range ($ to $$$$), cuisine, rating (0-5 number)"
	case domain.CategoryAttraction:
		hint = "operating_hours, admission_price, reservation_url, kind"
	case domain.CategoryHotel:
		hint = "price_per_night (USD number string), amenities (list)"
	case domain.CategoryCar:
		hint = "price_per_day (USD number string), vehicle_class, operating_hours"
	default:
		hint = "price_range (USD fare range)"
	}
	return fmt.Sprintf(`You extract facts about a single %s from a web page.

Return a JSON object with these keys: %s.
Use null for anything the page does not clearly state. Do not guess.`, category, hint)
}

func reportPrompt(qc domain.QueryContext) string {
	return fmt.Sprintf(`You write a concise travel plan for a trip from %s to %s (%s, departing %s, returning %s, %s budget).

Use only the recommendations provided. Return a JSON object with:
- flight_summary, car_rental_summary, hotel_summary, attraction_summary, restaurant_summary: lists of {"name", "price", "detail"}
- itinerary: one entry per day {"day_number", "date", "slots": [{"time_of_day": "morning"|"afternoon"|"evening", "activity", "item_name", "item_type", "estimated_cost"}], "daily_total"}
- total_estimated_budget: a short USD estimate for the whole trip`,
		qc.OriginCity, qc.DestinationCity, qc.TripType, qc.DepartingDate,
		orNotSpecified(qc.ReturningDate), qc.Budget)
}

// formatResults renders search results as model input.
func formatResults(results []domain.SearchResult, contentLimit int) string {
	parts := make([]string, 0, len(results))
	for i, r := range results {
		parts = append(parts, fmt.Sprintf("[%d] Title: %s\nURL: %s\nContent: %s",
			i+1, r.Title, r.URL, truncate(r.Content, contentLimit)))
	}
	return strings.Join(parts, "\n\n")
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func orNotSpecified(s string) string {
	if s == "" {
		return "not specified"
	}
	return s
}

func placeCode(code, city string) string {
	if code != "" {
		return code
	}
	return city
}
