package domain

// TimeOfDay is an itinerary slot.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

// ItinerarySlot is a single activity in a day plan.
type ItinerarySlot struct {
	TimeOfDay     TimeOfDay `json:"time_of_day"`
	Activity      string    `json:"activity"`
	ItemName      string    `json:"item_name"`
	ItemType      string    `json:"item_type"`
	EstimatedCost string    `json:"estimated_cost,omitempty"`
}

// ItineraryDay is one day of the proposed plan.
type ItineraryDay struct {
	DayNumber  int             `json:"day_number"`
	Date       string          `json:"date"`
	Slots      []ItinerarySlot `json:"slots"`
	DailyTotal string          `json:"daily_total"`
}

// SummaryRow is a compact line in one of the report's summary tables.
type SummaryRow struct {
	Name   string `json:"name"`
	Price  string `json:"price"`
	Detail string `json:"detail"`
}

// TravelReport is the narrative summary written at the end of a run.
type TravelReport struct {
	FlightSummary        []SummaryRow   `json:"flight_summary"`
	CarRentalSummary     []SummaryRow   `json:"car_rental_summary"`
	HotelSummary         []SummaryRow   `json:"hotel_summary"`
	AttractionSummary    []SummaryRow   `json:"attraction_summary"`
	RestaurantSummary    []SummaryRow   `json:"restaurant_summary"`
	Itinerary            []ItineraryDay `json:"itinerary"`
	TotalEstimatedBudget string         `json:"total_estimated_budget"`
}
