package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spoton/recommendation-service/internal/domain"
)

const documentTitle = "Spot On"

// field is one labelled value of an entry.
type field struct {
	Label string
	Value string
}

// entry is one recommended item.
type entry struct {
	Name   string
	Fields []field
	URL    string
}

// section groups the entries of one category.
type section struct {
	Title   string
	Entries []entry
}

// subtitle returns "origin to destination | dates".
func subtitle(c *domain.Constraints) string {
	if c == nil {
		return "Your Trip"
	}
	trip := "Your Trip"
	if c.Origin != "" && c.Destination != "" {
		trip = c.Origin + " to " + c.Destination
	}
	dates := c.DepartingDate
	if c.ReturningDate != "" {
		dates += " - " + c.ReturningDate
	}
	if dates == "" {
		return trip
	}
	return trip + " | " + dates
}

// newEntry drops empty fields.
func newEntry(name, url string, pairs ...string) entry {
	e := entry{Name: name, URL: url}
	if e.Name == "" {
		e.Name = "-"
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		if v := strings.TrimSpace(pairs[i+1]); v != "" {
			e.Fields = append(e.Fields, field{Label: pairs[i], Value: v})
		}
	}
	return e
}

// itemSections lists the non-empty item sections in presentation order.
func itemSections(m domain.MainResults) []section {
	var flights, cars, hotels, dining, spots []entry
	for _, f := range m.Flights {
		flights = append(flights, newEntry(f.Airline, f.URL,
			"Route", f.Route,
			"Trip Type", string(f.TripType),
			"Price Range", f.PriceRange,
			"Why Recommended", f.WhyRecommended,
		))
	}
	for _, c := range m.CarRentals {
		cars = append(cars, newEntry(c.Provider, c.URL,
			"Vehicle Class", c.VehicleClass,
			"Price Per Day", c.PricePerDay,
			"Pickup Location", c.PickupLocation,
			"Operating Hours", c.OperatingHours,
		))
	}
	for _, h := range m.Hotels {
		hotels = append(hotels, newEntry(h.Name, h.URL,
			"Price Per Night", h.PricePerNight,
			"Area", h.Area,
			"Amenities", strings.Join(h.Amenities, ", "),
			"Why Recommended", h.WhyRecommended,
		))
	}
	for _, r := range m.Restaurants {
		rating := ""
		if r.Rating != nil {
			rating = strconv.FormatFloat(*r.Rating, 'f', 1, 64)
		}
		dining = append(dining, newEntry(r.Name, r.URL,
			"Cuisine", r.Cuisine,
			"Price Range", r.PriceRange,
			"Rating", rating,
			"Area", r.Area,
			"Operating Hours", r.OperatingHours,
			"Why Recommended", r.WhyRecommended,
			"Reservations", r.ReservationURL,
		))
	}
	for _, a := range m.TravelSpots {
		duration := ""
		if a.EstimatedDurationMin != nil {
			duration = fmt.Sprintf("%d min", *a.EstimatedDurationMin)
		}
		spots = append(spots, newEntry(a.Name, a.URL,
			"Kind", a.Kind,
			"Area", a.Area,
			"Operating Hours", a.OperatingHours,
			"Admission", a.AdmissionPrice,
			"Duration", duration,
			"Why Recommended", a.WhyRecommended,
		))
	}

	all := []section{
		{Title: "Flights", Entries: flights},
		{Title: "Car Rentals", Entries: cars},
		{Title: "Hotels", Entries: hotels},
		{Title: "Dining", Entries: dining},
		{Title: "Must-See Spots", Entries: spots},
	}
	out := all[:0]
	for _, s := range all {
		if len(s.Entries) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// itinerary returns the report's day plans, if any.
func itinerary(out domain.FinalOutput) []domain.ItineraryDay {
	if out.Report == nil {
		return nil
	}
	return out.Report.Itinerary
}

func dayHeading(d domain.ItineraryDay) string {
	h := fmt.Sprintf("Day %d", d.DayNumber)
	if d.Date != "" {
		h += " (" + d.Date + ")"
	}
	return h
}

func slotLine(s domain.ItinerarySlot) string {
	line := s.Activity
	if s.ItemName != "" && !strings.Contains(line, s.ItemName) {
		line += " at " + s.ItemName
	}
	if s.EstimatedCost != "" {
		line += " (" + s.EstimatedCost + ")"
	}
	return line
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func referenceLabel(r domain.Reference) string {
	name := r.Name
	if name == "" {
		name = r.URL
	}
	if name == "" {
		name = "-"
	}
	return name
}
