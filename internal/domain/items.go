package domain

import "strings"

// Category identifies the kind of recommendation an item belongs to.
// The values double as the reference section names.
type Category string

const (
	CategoryRestaurant Category = "restaurant"
	CategoryAttraction Category = "attraction"
	CategoryHotel      Category = "hotel"
	CategoryCar        Category = "car"
	CategoryFlight     Category = "flight"
)

// Categories lists every category in presentation order.
var Categories = []Category{CategoryFlight, CategoryCar, CategoryHotel, CategoryRestaurant, CategoryAttraction}

// SearchResult is a raw record returned by the search provider.
type SearchResult struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content,omitempty"`
	Score      float64 `json:"score"`
	Query      string  `json:"query,omitempty"`
}

// Item is implemented by every recommendation type.
type Item interface {
	ItemID() string
	ItemName() string
	ItemURL() string
	Category() Category
	// MissingEnrichable lists enrichable fields that are still empty.
	MissingEnrichable() []string
	// EnrichableCount is the number of enrichable fields the type defines.
	EnrichableCount() int
	// MissingRequired lists required fields that are empty.
	MissingRequired() []string
}

// Enrichment holds values recovered for an item's empty fields. Only the
// fields relevant to the item's category are populated.
type Enrichment struct {
	OperatingHours string   `json:"operating_hours,omitempty"`
	MenuURL        string   `json:"menu_url,omitempty"`
	ReservationURL string   `json:"reservation_url,omitempty"`
	PriceRange     string   `json:"price_range,omitempty"`
	Cuisine        string   `json:"cuisine,omitempty"`
	Rating         *float64 `json:"rating,omitempty"`
	AdmissionPrice string   `json:"admission_price,omitempty"`
	Kind           string   `json:"kind,omitempty"`
	PricePerNight  string   `json:"price_per_night,omitempty"`
	Amenities      []string `json:"amenities,omitempty"`
	PricePerDay    string   `json:"price_per_day,omitempty"`
	VehicleClass   string   `json:"vehicle_class,omitempty"`
}

// IsEmpty reports whether no field was recovered.
func (e Enrichment) IsEmpty() bool {
	return e.OperatingHours == "" && e.MenuURL == "" && e.ReservationURL == "" &&
		e.PriceRange == "" && e.Cuisine == "" && e.Rating == nil && e.AdmissionPrice == "" &&
		e.Kind == "" && e.PricePerNight == "" && len(e.Amenities) == 0 &&
		e.PricePerDay == "" && e.VehicleClass == ""
}

// EnrichedData maps item IDs to the values recovered for them. An entry with
// an empty Enrichment records an attempt that found nothing.
type EnrichedData map[string]Enrichment

func missing(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}

func fill(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" && v != "" {
		*dst = v
	}
}

// Restaurant is a dining recommendation.
type Restaurant struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Cuisine        string   `json:"cuisine,omitempty"`
	Area           string   `json:"area,omitempty"`
	OperatingHours string   `json:"operating_hours,omitempty"`
	PriceRange     string   `json:"price_range,omitempty"`
	URL            string   `json:"url"`
	MenuURL        string   `json:"menu_url,omitempty"`
	ReservationURL string   `json:"reservation_url,omitempty"`
	Snippet        string   `json:"snippet,omitempty"`
	WhyRecommended string   `json:"why_recommended,omitempty"`
	Rating         *float64 `json:"rating,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

func (r Restaurant) ItemID() string     { return r.ID }
func (r Restaurant) ItemName() string   { return r.Name }
func (r Restaurant) ItemURL() string    { return r.URL }
func (r Restaurant) Category() Category { return CategoryRestaurant }
func (r Restaurant) EnrichableCount() int {
	return 6
}

func (r Restaurant) MissingEnrichable() []string {
	out := missing("operating_hours", r.OperatingHours, "menu_url", r.MenuURL,
		"reservation_url", r.ReservationURL, "price_range", r.PriceRange, "cuisine", r.Cuisine)
	if r.Rating == nil {
		out = append(out, "rating")
	}
	return out
}

func (r Restaurant) MissingRequired() []string {
	return missing("name", r.Name, "url", r.URL, "cuisine", r.Cuisine, "price_range", r.PriceRange)
}

// Merge fills empty fields from e without overwriting existing values.
func (r Restaurant) Merge(e Enrichment) Restaurant {
	fill(&r.OperatingHours, e.OperatingHours)
	fill(&r.MenuURL, e.MenuURL)
	fill(&r.ReservationURL, e.ReservationURL)
	fill(&r.PriceRange, e.PriceRange)
	fill(&r.Cuisine, e.Cuisine)
	if r.Rating == nil && e.Rating != nil {
		v := *e.Rating
		r.Rating = &v
	}
	return r
}

// Attraction is a sightseeing recommendation.
type Attraction struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Kind                 string `json:"kind,omitempty"`
	Area                 string `json:"area,omitempty"`
	OperatingHours       string `json:"operating_hours,omitempty"`
	URL                  string `json:"url"`
	ReservationURL       string `json:"reservation_url,omitempty"`
	AdmissionPrice       string `json:"admission_price,omitempty"`
	Snippet              string `json:"snippet,omitempty"`
	WhyRecommended       string `json:"why_recommended,omitempty"`
	EstimatedDurationMin *int   `json:"estimated_duration_min,omitempty"`
}

func (a Attraction) ItemID() string       { return a.ID }
func (a Attraction) ItemName() string     { return a.Name }
func (a Attraction) ItemURL() string      { return a.URL }
func (a Attraction) Category() Category   { return CategoryAttraction }
func (a Attraction) EnrichableCount() int { return 4 }

func (a Attraction) MissingEnrichable() []string {
	return missing("operating_hours", a.OperatingHours, "admission_price", a.AdmissionPrice,
		"reservation_url", a.ReservationURL, "kind", a.Kind)
}

func (a Attraction) MissingRequired() []string {
	return missing("name", a.Name, "url", a.URL, "kind", a.Kind)
}

// Merge fills empty fields from e without overwriting existing values.
func (a Attraction) Merge(e Enrichment) Attraction {
	fill(&a.OperatingHours, e.OperatingHours)
	fill(&a.AdmissionPrice, e.AdmissionPrice)
	fill(&a.ReservationURL, e.ReservationURL)
	fill(&a.Kind, e.Kind)
	return a
}

// Hotel is a lodging recommendation.
type Hotel struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Area           string   `json:"area,omitempty"`
	PricePerNight  string   `json:"price_per_night,omitempty"`
	URL            string   `json:"url"`
	Snippet        string   `json:"snippet,omitempty"`
	WhyRecommended string   `json:"why_recommended,omitempty"`
	Amenities      []string `json:"amenities,omitempty"`
}

func (h Hotel) ItemID() string       { return h.ID }
func (h Hotel) ItemName() string     { return h.Name }
func (h Hotel) ItemURL() string      { return h.URL }
func (h Hotel) Category() Category   { return CategoryHotel }
func (h Hotel) EnrichableCount() int { return 2 }

func (h Hotel) MissingEnrichable() []string {
	out := missing("price_per_night", h.PricePerNight)
	if len(h.Amenities) == 0 {
		out = append(out, "amenities")
	}
	return out
}

func (h Hotel) MissingRequired() []string {
	return missing("name", h.Name, "url", h.URL, "price_per_night", h.PricePerNight)
}

// Merge fills empty fields from e without overwriting existing values.
func (h Hotel) Merge(e Enrichment) Hotel {
	fill(&h.PricePerNight, e.PricePerNight)
	if len(h.Amenities) == 0 && len(e.Amenities) > 0 {
		h.Amenities = append([]string(nil), e.Amenities...)
	}
	return h
}

// CarRental is a car hire recommendation.
type CarRental struct {
	ID             string `json:"id"`
	Provider       string `json:"provider"`
	VehicleClass   string `json:"vehicle_class,omitempty"`
	PricePerDay    string `json:"price_per_day,omitempty"`
	PickupLocation string `json:"pickup_location,omitempty"`
	OperatingHours string `json:"operating_hours,omitempty"`
	URL            string `json:"url"`
	WhyRecommended string `json:"why_recommended,omitempty"`
}

func (c CarRental) ItemID() string       { return c.ID }
func (c CarRental) ItemName() string     { return c.Provider }
func (c CarRental) ItemURL() string      { return c.URL }
func (c CarRental) Category() Category   { return CategoryCar }
func (c CarRental) EnrichableCount() int { return 3 }

func (c CarRental) MissingEnrichable() []string {
	return missing("price_per_day", c.PricePerDay, "vehicle_class", c.VehicleClass,
		"operating_hours", c.OperatingHours)
}

func (c CarRental) MissingRequired() []string {
	return missing("provider", c.Provider, "url", c.URL, "price_per_day", c.PricePerDay)
}

// Merge fills empty fields from e without overwriting existing values.
func (c CarRental) Merge(e Enrichment) CarRental {
	fill(&c.PricePerDay, e.PricePerDay)
	fill(&c.VehicleClass, e.VehicleClass)
	fill(&c.OperatingHours, e.OperatingHours)
	return c
}

// Flight is an air travel recommendation.
type Flight struct {
	ID             string   `json:"id"`
	Airline        string   `json:"airline,omitempty"`
	Route          string   `json:"route"`
	TripType       TripType `json:"trip_type"`
	PriceRange     string   `json:"price_range,omitempty"`
	URL            string   `json:"url"`
	Snippet        string   `json:"snippet,omitempty"`
	WhyRecommended string   `json:"why_recommended,omitempty"`
}

func (f Flight) ItemID() string       { return f.ID }
func (f Flight) ItemName() string     { return f.Airline }
func (f Flight) ItemURL() string      { return f.URL }
func (f Flight) Category() Category   { return CategoryFlight }
func (f Flight) EnrichableCount() int { return 1 }

func (f Flight) MissingEnrichable() []string {
	return missing("price_range", f.PriceRange)
}

func (f Flight) MissingRequired() []string {
	return missing("airline", f.Airline, "url", f.URL, "price_range", f.PriceRange)
}

// Merge fills empty fields from e without overwriting existing values.
func (f Flight) Merge(e Enrichment) Flight {
	fill(&f.PriceRange, e.PriceRange)
	return f
}

// MainResults are the items that passed quality gating.
type MainResults struct {
	Flights     []Flight     `json:"flights"`
	CarRentals  []CarRental  `json:"car_rentals"`
	Hotels      []Hotel      `json:"hotels"`
	Restaurants []Restaurant `json:"restaurants"`
	TravelSpots []Attraction `json:"travel_spots"`
}

// Total returns the number of items across all categories.
func (m MainResults) Total() int {
	return len(m.Flights) + len(m.CarRentals) + len(m.Hotels) + len(m.Restaurants) + len(m.TravelSpots)
}

// Reference is an item demoted out of the main results.
type Reference struct {
	Section Category `json:"section"`
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	URL     string   `json:"url"`
	Missing []string `json:"missing,omitempty"`
}

// FinalOutput is the document a finished run produces.
type FinalOutput struct {
	MainResults  MainResults   `json:"main_results"`
	Constraints  *Constraints  `json:"constraints,omitempty"`
	QueryContext *QueryContext `json:"query_context,omitempty"`
	References   []Reference   `json:"references"`
	Report       *TravelReport `json:"report,omitempty"`
}
