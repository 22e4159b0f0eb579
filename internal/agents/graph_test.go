package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/llm"
	"github.com/spoton/recommendation-service/internal/search"
	"github.com/spoton/recommendation-service/internal/workflow"
)

const emptyItems = `{"items":[]}`

const reportJSON = `{"hotel_summary":[],"itinerary":[],"total_estimated_budget":"$1,000"}`

func runGraph(t *testing.T, deps Deps, cfg Config, skip bool) workflow.RunResult {
	t.Helper()

	g, err := BuildGraph(deps, cfg)
	require.NoError(t, err)

	exec, err := workflow.NewExecutor(workflow.WithPoolSize(8))
	require.NoError(t, err)
	t.Cleanup(exec.Close)

	c := parisConstraints()
	res, err := exec.Run(context.Background(), g, workflow.RunInput{
		RunID: uuid.New(),
		Seed:  Seed("", &c, skip),
	})
	require.NoError(t, err)
	require.Equal(t, workflow.OutcomeCompleted, res.Outcome)
	return res
}

func TestBuildGraph(t *testing.T) {
	t.Parallel()

	g, err := BuildGraph(testDeps(&mockSearcher{}, newMockLLM()), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, NodeParse, g.Entry())
	assert.Equal(t, NodeReport, g.Sink())
	assert.Equal(t, 4, g.Predecessors(NodeNormalize))
	loop, ok := g.Loop()
	require.True(t, ok)
	assert.Equal(t, NodeEnrich, loop.Node)
	assert.Equal(t, 0.5, loop.Threshold)
	assert.Equal(t, 2, loop.MaxPasses)
}

func TestGraph_EnrichmentDisabled(t *testing.T) {
	t.Parallel()

	c := newMockLLM().
		reply("normalize_restaurants", `{"items":[{"name":"Chez Marie","cuisine":"French","price_range":"$$","url":"https://chez.example"}]}`).
		reply("normalize_travel_spots", `{"items":[{"name":"Louvre","kind":"museum","url":"https://louvre.example"}]}`).
		reply("normalize_hotels", `{"items":[{"name":"Lutetia","price_per_night":"450","url":"https://lutetia.example"}]}`).
		reply("normalize_car_rentals", `{"items":[{"provider":"Hertz","price_per_day":"60","url":"https://hertz.example"}]}`).
		reply("normalize_flights", `{"items":[{"airline":"Air France","price_range":"$500-$700","url":"https://af.example"}]}`).
		reply("write_report", reportJSON)
	s := &mockSearcher{searchFn: perQuery(2)}

	res := runGraph(t, testDeps(s, c), testConfig(), true)

	assert.Zero(t, res.LoopPasses)
	assert.Zero(t, c.count("enrich_page"))
	assert.NotContains(t, res.Statuses, NodeEnrich)
	assert.Empty(t, Warnings(res.State))

	out := FinalOutput(res.State)
	assert.Len(t, out.MainResults.Restaurants, 1)
	assert.Len(t, out.MainResults.TravelSpots, 1)
	assert.Len(t, out.MainResults.Hotels, 1)
	assert.Len(t, out.MainResults.CarRentals, 1)
	assert.Len(t, out.MainResults.Flights, 1)
	require.NotNil(t, out.Report)
	assert.Equal(t, "$1,000", out.Report.TotalEstimatedBudget)
	for _, node := range []string{NodeParse, NodeRestaurants, NodeAttractions, NodeHotels, NodeTransport, NodeNormalize, NodeQuality, NodeReport} {
		assert.Equal(t, domain.NodeStatusCompleted, Statuses(res.State)[node], node)
	}
}

func TestGraph_TimedOutNodeAndOneEnrichmentPass(t *testing.T) {
	t.Parallel()

	s := &mockSearcher{
		searchFn: func(ctx context.Context, q search.Query) ([]domain.SearchResult, error) {
			if strings.Contains(q.Text, "hotels") || strings.Contains(q.Text, "where to stay") {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return perQuery(2)(ctx, q)
		},
		extractFn: extractAll("page"),
	}
	c := newMockLLM().
		// 4 of 6 restaurant fields and all 4 attraction fields missing: gap 0.8.
		reply("normalize_restaurants", `{"items":[{"name":"Chez Marie","cuisine":"French","price_range":"$$","url":"https://chez.example"}]}`).
		reply("normalize_travel_spots", `{"items":[{"name":"Louvre","url":"https://louvre.example"}]}`).
		reply("normalize_car_rentals", emptyItems).
		reply("normalize_flights", emptyItems).
		on("enrich_page", func(req llm.Request) (string, error) {
			if strings.Contains(req.User, "Chez Marie") {
				return `{"operating_hours":"12-23","menu_url":"https://chez.example/menu","reservation_url":"https://chez.example/book","rating":4.5}`, nil
			}
			return `{"operating_hours":"9-18"}`, nil
		}).
		reply("write_report", reportJSON)

	cfg := testConfig()
	cfg.Timeouts.Hotels = 50 * time.Millisecond

	res := runGraph(t, testDeps(s, c), cfg, false)

	assert.Equal(t, 1, res.LoopPasses)
	assert.Equal(t, 2, c.count("enrich_page"))
	assert.InDelta(t, 0.3, workflow.Value[float64](res.State, FieldEnrichmentGapRatio), 1e-9)
	assert.Zero(t, c.count("normalize_hotels"))

	statuses := Statuses(res.State)
	assert.Equal(t, domain.NodeStatusFailed, statuses[NodeHotels])
	assert.Equal(t, domain.NodeStatusCompleted, statuses[NodeEnrich])
	assert.Equal(t, domain.NodeStatusCompleted, statuses[NodeReport])

	warnings := Warnings(res.State)
	require.Len(t, warnings, 1)
	assert.True(t, strings.HasPrefix(warnings[0], NodeHotels+" failed"), warnings[0])

	out := FinalOutput(res.State)
	assert.Empty(t, out.MainResults.Hotels)
	require.Len(t, out.MainResults.Restaurants, 1)
	assert.Equal(t, "12-23", out.MainResults.Restaurants[0].OperatingHours)
	// The Louvre still lacks its kind and is demoted.
	require.Len(t, out.References, 1)
	assert.Equal(t, domain.CategoryAttraction, out.References[0].Section)
}

func TestGraph_TimedOutSearchNodeIsNotRetried(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	hotelCalls := map[string]int{}
	s := &mockSearcher{
		searchFn: func(ctx context.Context, q search.Query) ([]domain.SearchResult, error) {
			if strings.Contains(q.Text, "hotels") || strings.Contains(q.Text, "where to stay") {
				mu.Lock()
				hotelCalls[q.Text]++
				mu.Unlock()
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return perQuery(2)(ctx, q)
		},
		extractFn: extractAll("page"),
	}
	c := newMockLLM().
		reply("normalize_restaurants", emptyItems).
		reply("normalize_travel_spots", emptyItems).
		reply("normalize_car_rentals", emptyItems).
		reply("normalize_flights", emptyItems).
		reply("write_report", reportJSON)

	cfg := testConfig()
	cfg.SearchRetries = DefaultConfig().SearchRetries
	require.Positive(t, cfg.SearchRetries)
	cfg.Timeouts.Hotels = 100 * time.Millisecond

	start := time.Now()
	res := runGraph(t, testDeps(s, c), cfg, true)

	// A retry would add at least the one second initial backoff.
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domain.NodeStatusFailed, Statuses(res.State)[NodeHotels])
	assert.Equal(t, domain.NodeStatusCompleted, Statuses(res.State)[NodeReport])

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, hotelCalls)
	for text, n := range hotelCalls {
		assert.Equal(t, 1, n, text)
	}
}

func TestGraph_LoopEndsWhenNothingLeftToEnrich(t *testing.T) {
	t.Parallel()

	var extracts atomic.Int32
	s := &mockSearcher{
		searchFn: perQuery(2),
		extractFn: func(_ context.Context, urls []string) (*search.ExtractResult, error) {
			extracts.Add(1)
			return &search.ExtractResult{Failed: urls}, nil
		},
	}
	c := newMockLLM().
		reply("normalize_restaurants", emptyItems).
		reply("normalize_travel_spots", emptyItems).
		reply("normalize_hotels", emptyItems).
		reply("normalize_car_rentals", emptyItems).
		reply("normalize_flights", `{"items":[{"airline":"AF","url":"https://af.example"},{"airline":"DL","url":"https://dl.example"}]}`).
		reply("write_report", reportJSON)

	res := runGraph(t, testDeps(s, c), testConfig(), false)

	// Both flights were attempted in the first pass; the gap stays at 1.0.
	assert.Equal(t, 1, res.LoopPasses)
	assert.Equal(t, int32(1), extracts.Load())
	assert.InDelta(t, 1.0, workflow.Value[float64](res.State, FieldEnrichmentGapRatio), 1e-9)
	assert.True(t, workflow.Value[bool](res.State, FieldEnrichmentDone))
}

func TestGraph_EnrichmentStopsAtPassCap(t *testing.T) {
	t.Parallel()

	// Ten flights, nine without a fare: gap 0.9 that enrichment never lowers.
	flights := make([]string, 10)
	for i := range flights {
		price := ""
		if i == 9 {
			price = `,"price_range":"$400"`
		}
		flights[i] = fmt.Sprintf(`{"airline":"Airline %d","url":"https://fly%d.example"%s}`, i, i, price)
	}

	var extracts atomic.Int32
	s := &mockSearcher{
		searchFn: perQuery(2),
		extractFn: func(_ context.Context, urls []string) (*search.ExtractResult, error) {
			extracts.Add(1)
			return &search.ExtractResult{Failed: urls}, nil
		},
	}
	c := newMockLLM().
		reply("normalize_restaurants", emptyItems).
		reply("normalize_travel_spots", emptyItems).
		reply("normalize_hotels", emptyItems).
		reply("normalize_car_rentals", emptyItems).
		reply("normalize_flights", `{"items":[`+strings.Join(flights, ",")+`]}`).
		reply("write_report", reportJSON)

	res := runGraph(t, testDeps(s, c), testConfig(), false)

	assert.Equal(t, 2, res.LoopPasses)
	assert.Equal(t, int32(2), extracts.Load())
	assert.Equal(t, 2, workflow.Value[int](res.State, FieldEnrichmentPasses))
	assert.InDelta(t, 0.9, workflow.Value[float64](res.State, FieldEnrichmentGapRatio), 1e-9)
	assert.Equal(t, []string{"Only enriched 0/5 items", "Only enriched 0/4 items"}, Warnings(res.State))

	out := FinalOutput(res.State)
	require.Len(t, out.MainResults.Flights, 1)
	assert.Equal(t, "$400", out.MainResults.Flights[0].PriceRange)
	assert.Len(t, out.References, 9)
}
