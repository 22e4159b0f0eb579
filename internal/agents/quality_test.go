package agents

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/workflow"
)

func TestQualityNode_SplitsOnRequiredFields(t *testing.T) {
	t.Parallel()

	state := parisState(workflow.Update{
		FieldRestaurants: []domain.Restaurant{
			{ID: "r1", Name: "Chez Marie", URL: "https://chez.example", Cuisine: "French"},
			{ID: "r2", Name: "Le Bar", URL: "https://bar.example"},
		},
		FieldHotels: []domain.Hotel{
			{ID: "h1", Name: "Lutetia", URL: "https://lutetia.example", PricePerNight: "450"},
		},
		FieldFlights: []domain.Flight{
			{ID: "f1", URL: "https://kayak.example", PriceRange: "$400"},
		},
		FieldEnrichedData: domain.EnrichedData{
			"r1": {PriceRange: "$$", Cuisine: "Italian"},
		},
	})

	res := newQualityNode(testDeps(&mockSearcher{}, newMockLLM()), testConfig()).Execute(context.Background(), state)

	require.Equal(t, domain.NodeStatusCompleted, res.Status)
	main := res.Update[FieldMainResults].(domain.MainResults)
	require.Len(t, main.Restaurants, 1)
	assert.Equal(t, "French", main.Restaurants[0].Cuisine, "enrichment never overwrites values")
	assert.Equal(t, "$$", main.Restaurants[0].PriceRange)
	assert.Len(t, main.Hotels, 1)
	assert.Empty(t, main.Flights)
	assert.NotNil(t, main.TravelSpots)

	want := []domain.Reference{
		{Section: domain.CategoryFlight, ID: "f1", URL: "https://kayak.example", Missing: []string{"airline"}},
		{Section: domain.CategoryRestaurant, ID: "r2", Name: "Le Bar", URL: "https://bar.example", Missing: []string{"cuisine", "price_range"}},
	}
	if diff := cmp.Diff(want, res.Update[FieldReferences]); diff != "" {
		t.Errorf("references mismatch (-want +got):\n%s", diff)
	}
}

func TestSplit_EmptyState(t *testing.T) {
	t.Parallel()

	main, refs := Split(workflow.View{})

	assert.Zero(t, main.Total())
	assert.NotNil(t, refs)
	assert.Empty(t, refs)
}
