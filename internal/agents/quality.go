package agents

import (
	"context"
	"fmt"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/workflow"
)

type qualityNode struct {
	*agent
}

func newQualityNode(deps Deps, cfg Config) workflow.Node {
	return &qualityNode{agent: newAgent(deps, cfg, NodeQuality)}
}

// Split merges enrichment into the normalized items and separates the items
// that carry every required field from those demoted to references.
func Split(state workflow.View) (domain.MainResults, []domain.Reference) {
	merged := normalizedFrom(state).merge(workflow.Value[domain.EnrichedData](state, FieldEnrichedData))

	main := domain.MainResults{
		Flights:     []domain.Flight{},
		CarRentals:  []domain.CarRental{},
		Hotels:      []domain.Hotel{},
		Restaurants: []domain.Restaurant{},
		TravelSpots: []domain.Attraction{},
	}
	refs := []domain.Reference{}
	for _, it := range merged.items() {
		if m := it.MissingRequired(); len(m) > 0 {
			refs = append(refs, domain.Reference{
				Section: it.Category(),
				ID:      it.ItemID(),
				Name:    it.ItemName(),
				URL:     it.ItemURL(),
				Missing: m,
			})
			continue
		}
		switch v := it.(type) {
		case domain.Flight:
			main.Flights = append(main.Flights, v)
		case domain.CarRental:
			main.CarRentals = append(main.CarRentals, v)
		case domain.Hotel:
			main.Hotels = append(main.Hotels, v)
		case domain.Restaurant:
			main.Restaurants = append(main.Restaurants, v)
		case domain.Attraction:
			main.TravelSpots = append(main.TravelSpots, v)
		}
	}
	return main, refs
}

func (n *qualityNode) Execute(_ context.Context, state workflow.View) workflow.Result {
	main, refs := Split(state)
	n.logger.Info().Int("main", main.Total()).Int("references", len(refs)).Msg("quality split complete")
	return workflow.Result{
		Update: workflow.Update{
			FieldMainResults: main,
			FieldReferences:  refs,
		},
		Status:  domain.NodeStatusCompleted,
		Message: fmt.Sprintf("%d main, %d references", main.Total(), len(refs)),
	}
}
