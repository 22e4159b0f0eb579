package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/spoton/recommendation-service/internal/dedup"
	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/llm"
	"github.com/spoton/recommendation-service/internal/workflow"
)

// normalizeContentLimit truncates each result's content in the model input.
const normalizeContentLimit = 1500

type normalizeNode struct {
	*agent
}

func newNormalizeNode(deps Deps, cfg Config) workflow.Node {
	return &normalizeNode{agent: newAgent(deps, cfg, NodeNormalize)}
}

// itemsEnvelope is the JSON shape every normalize call returns.
type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

func normalizeCategory[T any](ctx context.Context, n *normalizeNode, spec normalizeSpec, qc domain.QueryContext, raw []domain.SearchResult) ([]T, error) {
	var out itemsEnvelope[T]
	err := llm.CompleteJSON(ctx, n.deps.LLM, llm.Request{
		Operation: "normalize_" + spec.field,
		System:    normalizePrompt(spec, qc, len(raw)),
		User:      formatResults(raw, normalizeContentLimit),
		MaxTokens: 4096,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (n *normalizeNode) Execute(ctx context.Context, state workflow.View) workflow.Result {
	qc := workflow.Value[domain.QueryContext](state, FieldQueryContext)
	citySlug := slug(qc.DestinationCity)

	var (
		out      normalized
		mu       sync.Mutex
		warnings []string
		failed   int
		tried    int
	)
	fail := func(spec normalizeSpec, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed++
		warnings = append(warnings, fmt.Sprintf("Failed to normalize %s results", spec.noun))
		n.logger.Warn().Err(err).Str("category", string(spec.category)).Msg("normalization failed")
	}

	var g errgroup.Group
	if raw := workflow.Value[[]domain.SearchResult](state, FieldRawRestaurants); len(raw) > 0 {
		tried++
		g.Go(func() error {
			items, err := normalizeCategory[domain.Restaurant](ctx, n, restaurantSpec, qc, raw)
			if err != nil {
				fail(restaurantSpec, err)
				return nil
			}
			for i := range items {
				items[i].ID = itemID(restaurantSpec.category, citySlug, i)
				fillFromResult(&items[i].URL, &items[i].Snippet, raw, i)
			}
			out.Restaurants = dedup.Items(items, 0)
			return nil
		})
	}
	if raw := workflow.Value[[]domain.SearchResult](state, FieldRawAttractions); len(raw) > 0 {
		tried++
		g.Go(func() error {
			items, err := normalizeCategory[domain.Attraction](ctx, n, attractionSpec, qc, raw)
			if err != nil {
				fail(attractionSpec, err)
				return nil
			}
			for i := range items {
				items[i].ID = itemID(attractionSpec.category, citySlug, i)
				fillFromResult(&items[i].URL, &items[i].Snippet, raw, i)
			}
			out.Attractions = dedup.Items(items, 0)
			return nil
		})
	}
	if raw := workflow.Value[[]domain.SearchResult](state, FieldRawHotels); len(raw) > 0 {
		tried++
		g.Go(func() error {
			items, err := normalizeCategory[domain.Hotel](ctx, n, hotelSpec, qc, raw)
			if err != nil {
				fail(hotelSpec, err)
				return nil
			}
			for i := range items {
				items[i].ID = itemID(hotelSpec.category, citySlug, i)
				fillFromResult(&items[i].URL, &items[i].Snippet, raw, i)
			}
			out.Hotels = dedup.Items(items, 0)
			return nil
		})
	}
	if raw := workflow.Value[[]domain.SearchResult](state, FieldRawCarRentals); len(raw) > 0 {
		tried++
		g.Go(func() error {
			items, err := normalizeCategory[domain.CarRental](ctx, n, carSpec, qc, raw)
			if err != nil {
				fail(carSpec, err)
				return nil
			}
			for i := range items {
				items[i].ID = itemID(carSpec.category, citySlug, i)
				var snippet string
				fillFromResult(&items[i].URL, &snippet, raw, i)
			}
			out.CarRentals = dedup.Items(items, 0)
			return nil
		})
	}
	if raw := workflow.Value[[]domain.SearchResult](state, FieldRawFlights); len(raw) > 0 {
		tried++
		g.Go(func() error {
			items, err := normalizeCategory[domain.Flight](ctx, n, flightSpec, qc, raw)
			if err != nil {
				fail(flightSpec, err)
				return nil
			}
			route := placeCode(qc.OriginCode, qc.OriginCity) + " -> " + placeCode(qc.DestinationCode, qc.DestinationCity)
			for i := range items {
				items[i].ID = itemID(flightSpec.category, citySlug, i)
				items[i].TripType = qc.TripType
				if strings.TrimSpace(items[i].Route) == "" {
					items[i].Route = route
				}
				fillFromResult(&items[i].URL, &items[i].Snippet, raw, i)
			}
			out.Flights = items
			return nil
		})
	}
	_ = g.Wait()

	if tried > 0 && failed == tried {
		return workflow.Failed(errors.New("normalization failed for every category"))
	}

	u := workflow.Update{
		FieldRestaurants: out.Restaurants,
		FieldTravelSpots: out.Attractions,
		FieldHotels:      out.Hotels,
		FieldCarRentals:  out.CarRentals,
		FieldFlights:     out.Flights,
	}
	total := len(out.items())
	msg := fmt.Sprintf("%d items", total)
	n.logger.Info().Int("items", total).Int("failed_categories", failed).Msg("normalization complete")
	if failed > 0 {
		u[FieldWarnings] = warnings
		return workflow.Result{Update: u, Status: domain.NodeStatusPartial, Message: msg}
	}
	return workflow.Result{Update: u, Status: domain.NodeStatusCompleted, Message: msg}
}

// itemID builds the stable identifier <category>_<city>_<n>.
func itemID(category domain.Category, citySlug string, i int) string {
	return fmt.Sprintf("%s_%s_%d", category, citySlug, i+1)
}

// fillFromResult copies the source URL and snippet of the i-th search result
// into empty item fields.
func fillFromResult(url, snippet *string, raw []domain.SearchResult, i int) {
	if i >= len(raw) {
		return
	}
	if strings.TrimSpace(*url) == "" {
		*url = raw[i].URL
	}
	if strings.TrimSpace(*snippet) == "" {
		*snippet = truncate(raw[i].Content, 300)
	}
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "unknown"
	}
	return out
}
