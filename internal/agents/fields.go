package agents

import (
	"github.com/spoton/recommendation-service/internal/workflow"
)

// State fields of the recommendation graph.
const (
	FieldPrompt         = "prompt"
	FieldConstraints    = "constraints"
	FieldQueryContext   = "query_context"
	FieldSkipEnrichment = "skip_enrichment"
	FieldAgentStatuses  = "agent_statuses"
	FieldWarnings       = "warnings"

	FieldRawRestaurants = "raw_restaurants"
	FieldRawAttractions = "raw_attractions"
	FieldRawHotels      = "raw_hotels"
	FieldRawCarRentals  = "raw_car_rentals"
	FieldRawFlights     = "raw_flights"

	FieldRestaurants = "restaurants"
	FieldTravelSpots = "travel_spots"
	FieldHotels      = "hotels"
	FieldCarRentals  = "car_rentals"
	FieldFlights     = "flights"

	FieldEnrichedData       = "enriched_data"
	FieldEnrichmentGapRatio = "enrichment_gap_ratio"
	FieldEnrichmentPasses   = "enrichment_loop_count"
	FieldEnrichmentDone     = "enrichment_exhausted"

	FieldMainResults = "main_results"
	FieldReferences  = "references"
	FieldReport      = "report"
	FieldFinalOutput = "final_output"
)

// Node identities. They appear in events, statuses and warnings.
const (
	NodeParse       = "ParseRequest"
	NodeRestaurants = "RestaurantAgent"
	NodeAttractions = "AttractionsAgent"
	NodeHotels      = "HotelAgent"
	NodeTransport   = "TransportAgent"
	NodeNormalize   = "NormalizeAgent"
	NodeEnrich      = "EnrichAgent"
	NodeQuality     = "QualitySplit"
	NodeReport      = "ReportWriter"
)

// Schema returns the state registry of the recommendation graph.
func Schema() *workflow.Schema {
	return workflow.NewSchema().
		Declare(FieldPrompt, workflow.Overwrite).
		Declare(FieldConstraints, workflow.Overwrite).
		Declare(FieldQueryContext, workflow.Overwrite).
		Declare(FieldSkipEnrichment, workflow.Overwrite).
		Declare(FieldAgentStatuses, workflow.DictUnion).
		Declare(FieldWarnings, workflow.Append).
		Declare(FieldRawRestaurants, workflow.Append).
		Declare(FieldRawAttractions, workflow.Append).
		Declare(FieldRawHotels, workflow.Append).
		Declare(FieldRawCarRentals, workflow.Append).
		Declare(FieldRawFlights, workflow.Append).
		Declare(FieldRestaurants, workflow.Overwrite).
		Declare(FieldTravelSpots, workflow.Overwrite).
		Declare(FieldHotels, workflow.Overwrite).
		Declare(FieldCarRentals, workflow.Overwrite).
		Declare(FieldFlights, workflow.Overwrite).
		Declare(FieldEnrichedData, workflow.DictUnion).
		Declare(FieldEnrichmentGapRatio, workflow.Overwrite).
		Declare(FieldEnrichmentPasses, workflow.Overwrite).
		Declare(FieldEnrichmentDone, workflow.Overwrite).
		Declare(FieldMainResults, workflow.Overwrite).
		Declare(FieldReferences, workflow.Overwrite).
		Declare(FieldReport, workflow.Overwrite).
		Declare(FieldFinalOutput, workflow.Overwrite)
}
