package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// isoDate is the wire format for trip dates.
const isoDate = "2006-01-02"

// Constraints are the structured trip parameters a run is planned against.
type Constraints struct {
	Origin        string      `json:"origin" validate:"required"`
	Destination   string      `json:"destination" validate:"required"`
	DepartingDate string      `json:"departing_date" validate:"required,datetime=2006-01-02"`
	ReturningDate string      `json:"returning_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Interests     []string    `json:"interests,omitempty" validate:"max=20,dive,max=100"`
	Budget        BudgetLevel `json:"budget,omitempty" validate:"omitempty,oneof=budget moderate luxury"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func constraintsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Normalize trims whitespace and applies defaults in place.
func (c *Constraints) Normalize() {
	c.Origin = strings.TrimSpace(c.Origin)
	c.Destination = strings.TrimSpace(c.Destination)
	c.DepartingDate = strings.TrimSpace(c.DepartingDate)
	c.ReturningDate = strings.TrimSpace(c.ReturningDate)
	if c.Budget == "" {
		c.Budget = BudgetLevelModerate
	}
	interests := c.Interests[:0]
	for _, in := range c.Interests {
		if in = strings.TrimSpace(in); in != "" {
			interests = append(interests, in)
		}
	}
	c.Interests = interests
}

// Validate normalizes the constraints and checks them. It returns a
// *ValidationError naming the first offending field.
func (c *Constraints) Validate() error {
	c.Normalize()

	if err := constraintsValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return validationErrorFor(verrs[0])
		}
		return NewValidationError("constraints", err.Error())
	}

	if strings.EqualFold(c.Origin, c.Destination) {
		return NewValidationError("destination", "origin and destination must be different")
	}
	if c.ReturningDate != "" {
		depart, _ := time.Parse(isoDate, c.DepartingDate)
		ret, _ := time.Parse(isoDate, c.ReturningDate)
		if ret.Before(depart) {
			return NewValidationError("returning_date", "must be on or after departing_date")
		}
	}
	return nil
}

func validationErrorFor(fe validator.FieldError) *ValidationError {
	field := jsonFieldName(fe.Field())
	switch fe.Tag() {
	case "required":
		return NewValidationError(field, "is required")
	case "datetime":
		return NewValidationError(field, "expected ISO date YYYY-MM-DD")
	case "oneof":
		return NewValidationError(field, fmt.Sprintf("must be one of: %s", fe.Param()))
	default:
		return NewValidationError(field, fmt.Sprintf("failed %q check", fe.Tag()))
	}
}

func jsonFieldName(structField string) string {
	switch structField {
	case "Origin":
		return "origin"
	case "Destination":
		return "destination"
	case "DepartingDate":
		return "departing_date"
	case "ReturningDate":
		return "returning_date"
	case "Interests":
		return "interests"
	case "Budget":
		return "budget"
	default:
		return strings.ToLower(structField)
	}
}

// TripType distinguishes one-way from round-trip travel.
type TripType string

const (
	TripTypeOneWay    TripType = "one-way"
	TripTypeRoundTrip TripType = "round-trip"
)

// QueryContext is the deterministic search context derived from Constraints.
type QueryContext struct {
	Origin          string      `json:"origin"`
	Destination     string      `json:"destination"`
	OriginCity      string      `json:"origin_city"`
	DestinationCity string      `json:"destination_city"`
	OriginCode      string      `json:"origin_code,omitempty"`
	DestinationCode string      `json:"destination_code,omitempty"`
	DepartingDate   string      `json:"departing_date"`
	ReturningDate   string      `json:"returning_date,omitempty"`
	TripType        TripType    `json:"trip_type"`
	DepartYear      int         `json:"depart_year"`
	StayNights      int         `json:"stay_nights,omitempty"`
	Interests       []string    `json:"interests,omitempty"`
	Budget          BudgetLevel `json:"budget"`
}

// NewQueryContext derives the query context. Dates that fail to parse leave
// the year and stay length at zero.
func NewQueryContext(c Constraints) QueryContext {
	qc := QueryContext{
		Origin:          c.Origin,
		Destination:     c.Destination,
		OriginCity:      StripAirportCode(c.Origin),
		DestinationCity: StripAirportCode(c.Destination),
		OriginCode:      ExtractAirportCode(c.Origin),
		DestinationCode: ExtractAirportCode(c.Destination),
		DepartingDate:   c.DepartingDate,
		ReturningDate:   c.ReturningDate,
		TripType:        TripTypeOneWay,
		Interests:       c.Interests,
		Budget:          c.Budget,
	}
	if qc.Budget == "" {
		qc.Budget = BudgetLevelModerate
	}
	if c.ReturningDate != "" {
		qc.TripType = TripTypeRoundTrip
	}
	depart, err := time.Parse(isoDate, c.DepartingDate)
	if err != nil {
		return qc
	}
	qc.DepartYear = depart.Year()
	if ret, err := time.Parse(isoDate, c.ReturningDate); err == nil {
		qc.StayNights = int(ret.Sub(depart).Hours() / 24)
	}
	return qc
}

// StripAirportCode turns "Paris (CDG)" into "Paris".
func StripAirportCode(value string) string {
	city, _, _ := strings.Cut(value, "(")
	return strings.TrimSpace(city)
}

// ExtractAirportCode returns the three-letter code from "Paris (CDG)", or "".
func ExtractAirportCode(value string) string {
	_, rest, ok := strings.Cut(value, "(")
	if !ok {
		return ""
	}
	code, _, ok := strings.Cut(rest, ")")
	if !ok {
		return ""
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return ""
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return code
}
