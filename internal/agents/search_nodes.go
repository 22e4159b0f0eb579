package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spoton/recommendation-service/internal/dedup"
	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/search"
	"github.com/spoton/recommendation-service/internal/workflow"
)

// ErrNoResults is returned by a search node whose queries all came back empty.
var ErrNoResults = errors.New("no search results found")

// restaurantDomains restricts the primary restaurant queries to review sites.
var restaurantDomains = []string{
	"yelp.com", "tripadvisor.com", "michelin.com", "eater.com",
	"infatuation.com", "timeout.com", "thefork.com",
}

// gatherPlan describes the queries of one search category.
type gatherPlan struct {
	primary  []search.Query
	fallback []search.Query

	// minUnique triggers the fallback queries when fewer unique results
	// were found.
	minUnique int
	keep      int
}

// gather runs a plan and returns the top results. It fails only when every
// query failed or nothing was found.
func (a *agent) gather(ctx context.Context, plan gatherPlan) ([]domain.SearchResult, error) {
	batch := search.SearchAll(ctx, a.deps.Search, plan.primary, a.cfg.SearchConcurrency)
	if batch.AllFailed() {
		return nil, batch.Err()
	}
	results := a.clean(batch.Results())

	if len(plan.fallback) > 0 && len(results) < plan.minUnique {
		a.logger.Debug().Int("unique", len(results)).Msg("running fallback queries")
		more := search.SearchAll(ctx, a.deps.Search, plan.fallback, a.cfg.SearchConcurrency)
		batch = append(batch, more...)
		results = a.clean(append(results, more.Results()...))
	}
	if n := batch.Failed(); n > 0 {
		a.logger.Warn().Err(batch.Err()).Int("failed_queries", n).Msg("some search queries failed")
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	return dedup.TopByScore(results, plan.keep), nil
}

func (a *agent) clean(results []domain.SearchResult) []domain.SearchResult {
	kept, dropped := dedup.FilterSERP(results)
	if dropped > 0 {
		a.logger.Debug().Int("dropped", dropped).Msg("dropped search engine result pages")
	}
	return dedup.ByURLAndTitle(kept)
}

func queries(texts ...string) []search.Query {
	out := make([]search.Query, len(texts))
	for i, t := range texts {
		out[i] = search.Query{Text: t}
	}
	return out
}

// tripYear is the year used in search queries.
func (a *agent) tripYear(qc domain.QueryContext) int {
	if qc.DepartYear > 0 {
		return qc.DepartYear
	}
	return a.deps.Now().Year()
}

// searchNode runs one gather plan and writes the results to field.
type searchNode struct {
	*agent
	field string
	plan  func(qc domain.QueryContext) gatherPlan
}

func (n *searchNode) Execute(ctx context.Context, state workflow.View) workflow.Result {
	qc := workflow.Value[domain.QueryContext](state, FieldQueryContext)
	results, err := n.gather(ctx, n.plan(qc))
	if err != nil {
		return workflow.Failed(err)
	}
	n.logger.Info().Int("results", len(results)).Str("destination", qc.DestinationCity).Msg("search complete")
	return workflow.Result{
		Update:  workflow.Update{n.field: results},
		Status:  domain.NodeStatusCompleted,
		Message: fmt.Sprintf("%d results", len(results)),
	}
}

func newRestaurantNode(deps Deps, cfg Config) workflow.Node {
	n := &searchNode{agent: newAgent(deps, cfg, NodeRestaurants), field: FieldRawRestaurants}
	n.plan = func(qc domain.QueryContext) gatherPlan {
		city := qc.DestinationCity
		primary := queries(
			fmt.Sprintf("best restaurants in %s %d", city, n.tripYear(qc)),
			fmt.Sprintf("top rated restaurants %s local favorites where to eat", city),
			fmt.Sprintf("Michelin Guide %s restaurants Bib Gourmand", city),
		)
		for i := range primary {
			primary[i].IncludeDomains = restaurantDomains
		}
		return gatherPlan{
			primary: primary,
			fallback: queries(
				fmt.Sprintf("hidden gem restaurants %s underrated dining", city),
				fmt.Sprintf("%s chef's tasting menu best restaurants", city),
			),
			minUnique: 15,
			keep:      10,
		}
	}
	return n
}

func newAttractionsNode(deps Deps, cfg Config) workflow.Node {
	n := &searchNode{agent: newAgent(deps, cfg, NodeAttractions), field: FieldRawAttractions}
	n.plan = func(qc domain.QueryContext) gatherPlan {
		city := qc.DestinationCity
		return gatherPlan{
			primary: queries(
				fmt.Sprintf("top attractions %s must see %d", city, n.tripYear(qc)),
				fmt.Sprintf("%s best things to do iconic landmarks sightseeing", city),
				fmt.Sprintf("%s unique experiences hidden gems", city),
			),
			keep: 15,
		}
	}
	return n
}

func newHotelNode(deps Deps, cfg Config) workflow.Node {
	n := &searchNode{agent: newAgent(deps, cfg, NodeHotels), field: FieldRawHotels}
	n.plan = func(qc domain.QueryContext) gatherPlan {
		city := qc.DestinationCity
		return gatherPlan{
			primary: queries(
				fmt.Sprintf("best hotels in %s %d", city, n.tripYear(qc)),
				fmt.Sprintf("where to stay in %s best neighborhoods for tourists", city),
				fmt.Sprintf("boutique hotels %s unique stays", city),
			),
			keep: 15,
		}
	}
	return n
}

// transportNode searches car rentals and flights side by side. One side
// failing degrades the node to partial.
type transportNode struct {
	*agent
}

func newTransportNode(deps Deps, cfg Config) workflow.Node {
	return &transportNode{agent: newAgent(deps, cfg, NodeTransport)}
}

func (n *transportNode) carPlan(qc domain.QueryContext) gatherPlan {
	city := qc.DestinationCity
	airport := placeCode(qc.DestinationCode, city)
	dates := qc.DepartingDate
	if qc.ReturningDate != "" {
		dates += " to " + qc.ReturningDate
	}
	return gatherPlan{
		primary: queries(
			fmt.Sprintf("car rental %s airport pickup %s", airport, dates),
			fmt.Sprintf("best car rental deals %s %s", city, dates),
			fmt.Sprintf("local car rental companies %s tourist", city),
		),
		keep: 15,
	}
}

func (n *transportNode) flightPlan(qc domain.QueryContext) gatherPlan {
	from, to := qc.OriginCity, qc.DestinationCity
	if qc.OriginCode != "" && qc.DestinationCode != "" {
		from, to = qc.OriginCode, qc.DestinationCode
	}
	dates := qc.DepartingDate
	if qc.ReturningDate != "" {
		dates += " returning " + qc.ReturningDate
	}
	return gatherPlan{
		primary: queries(
			fmt.Sprintf("flights %s to %s %s", from, to, dates),
			fmt.Sprintf("cheap flights %s to %s %s", from, to, qc.DepartingDate),
			fmt.Sprintf("direct nonstop flights %s to %s", from, to),
		),
		keep: 15,
	}
}

func (n *transportNode) Execute(ctx context.Context, state workflow.View) workflow.Result {
	qc := workflow.Value[domain.QueryContext](state, FieldQueryContext)

	var (
		wg                sync.WaitGroup
		cars, flights     []domain.SearchResult
		carErr, flightErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		cars, carErr = n.gather(ctx, n.carPlan(qc))
	}()
	go func() {
		defer wg.Done()
		flights, flightErr = n.gather(ctx, n.flightPlan(qc))
	}()
	wg.Wait()

	if carErr != nil && flightErr != nil {
		return workflow.Failed(fmt.Errorf("car rentals: %w; flights: %w", carErr, flightErr))
	}

	u := workflow.Update{}
	var warnings []string
	if carErr != nil {
		n.logger.Warn().Err(carErr).Msg("car rental search failed")
		warnings = append(warnings, "Car rental search failed")
	} else {
		u[FieldRawCarRentals] = cars
	}
	if flightErr != nil {
		n.logger.Warn().Err(flightErr).Msg("flight search failed")
		warnings = append(warnings, "Flight search failed")
	} else {
		u[FieldRawFlights] = flights
	}
	msg := fmt.Sprintf("%d car rentals, %d flights", len(cars), len(flights))
	if len(warnings) > 0 {
		u[FieldWarnings] = warnings
		return workflow.Result{Update: u, Status: domain.NodeStatusPartial, Message: msg}
	}
	return workflow.Result{Update: u, Status: domain.NodeStatusCompleted, Message: msg}
}
