// Package agents implements the travel recommendation graph: the request
// parser, the four search nodes, normalization, the bounded enrichment loop,
// quality gating and the report writer.
//
// BuildGraph wires the nodes into a workflow.Graph:
//
//	ParseRequest -> {RestaurantAgent, AttractionsAgent, HotelAgent, TransportAgent}
//	  -> NormalizeAgent -> (skip_enrichment ? QualitySplit : EnrichAgent)
//	EnrichAgent loops while the gap ratio stays above the threshold
//	  -> QualitySplit -> ReportWriter
package agents

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/spoton/recommendation-service/internal/llm"
	"github.com/spoton/recommendation-service/internal/search"
	"github.com/spoton/recommendation-service/internal/workflow"
)

// Timeouts bounds one attempt of each node.
type Timeouts struct {
	Parse       time.Duration
	Restaurants time.Duration
	Attractions time.Duration
	Hotels      time.Duration
	Transport   time.Duration
	Normalize   time.Duration
	Enrich      time.Duration
	Report      time.Duration
}

// Config tunes the recommendation graph.
type Config struct {
	// GapThreshold ends the enrichment loop once the gap ratio is at or
	// below it.
	GapThreshold float64

	// MaxPasses caps the number of enrichment passes.
	MaxPasses int

	// EnrichBatchSize is the number of URLs extracted per pass.
	EnrichBatchSize int

	// EnrichContentLimit truncates extracted pages before LLM parsing.
	EnrichContentLimit int

	// SearchConcurrency caps concurrent queries per node.
	SearchConcurrency int

	// SearchRetries is the number of node level retries after every query
	// of a search node failed transiently.
	SearchRetries int

	Timeouts Timeouts
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		GapThreshold:       0.5,
		MaxPasses:          2,
		EnrichBatchSize:    5,
		EnrichContentLimit: 5000,
		SearchConcurrency:  search.DefaultConcurrency,
		SearchRetries:      1,
		Timeouts: Timeouts{
			Parse:       30 * time.Second,
			Restaurants: 30 * time.Second,
			Attractions: 30 * time.Second,
			Hotels:      30 * time.Second,
			Transport:   40 * time.Second,
			Normalize:   60 * time.Second,
			Enrich:      45 * time.Second,
			Report:      60 * time.Second,
		},
	}
}

// Deps are the collaborators the nodes call.
type Deps struct {
	Search search.Searcher
	LLM    llm.Client
	Logger zerolog.Logger

	// Now returns the current time; nil uses time.Now.
	Now func() time.Time
}

// agent carries the shared collaborators of every node.
type agent struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
}

func newAgent(deps Deps, cfg Config, node string) *agent {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &agent{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With().Str("component", "agents").Str("node", node).Logger(),
	}
}

// BuildGraph compiles the recommendation graph.
func BuildGraph(deps Deps, cfg Config) (*workflow.Graph, error) {
	searchRetry := workflow.RetryPolicy{
		MaxRetries:        cfg.SearchRetries,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        5 * time.Second,
	}
	rawWriter := func(fields ...string) []string {
		return append(fields, FieldWarnings)
	}

	b := workflow.NewBuilder("spot-on", Schema())
	b.AddNode(NodeParse, newParseNode(deps, cfg), workflow.NodeOptions{
		Writes:      []string{FieldConstraints, FieldQueryContext, FieldWarnings},
		Timeout:     cfg.Timeouts.Parse,
		Criticality: workflow.Critical,
	})
	b.AddNode(NodeRestaurants, newRestaurantNode(deps, cfg), workflow.NodeOptions{
		Writes:  rawWriter(FieldRawRestaurants),
		Timeout: cfg.Timeouts.Restaurants,
		Retry:   searchRetry,
	})
	b.AddNode(NodeAttractions, newAttractionsNode(deps, cfg), workflow.NodeOptions{
		Writes:  rawWriter(FieldRawAttractions),
		Timeout: cfg.Timeouts.Attractions,
		Retry:   searchRetry,
	})
	b.AddNode(NodeHotels, newHotelNode(deps, cfg), workflow.NodeOptions{
		Writes:  rawWriter(FieldRawHotels),
		Timeout: cfg.Timeouts.Hotels,
		Retry:   searchRetry,
	})
	b.AddNode(NodeTransport, newTransportNode(deps, cfg), workflow.NodeOptions{
		Writes:  rawWriter(FieldRawCarRentals, FieldRawFlights),
		Timeout: cfg.Timeouts.Transport,
		Retry:   searchRetry,
	})
	b.AddNode(NodeNormalize, newNormalizeNode(deps, cfg), workflow.NodeOptions{
		Writes:  []string{FieldRestaurants, FieldTravelSpots, FieldHotels, FieldCarRentals, FieldFlights, FieldWarnings},
		Timeout: cfg.Timeouts.Normalize,
	})
	b.AddNode(NodeEnrich, newEnrichNode(deps, cfg), workflow.NodeOptions{
		Writes:  []string{FieldEnrichedData, FieldEnrichmentGapRatio, FieldEnrichmentDone, FieldWarnings},
		Timeout: cfg.Timeouts.Enrich,
	})
	b.AddNode(NodeQuality, newQualityNode(deps, cfg), workflow.NodeOptions{
		Writes: []string{FieldMainResults, FieldReferences},
	})
	b.AddNode(NodeReport, newReportNode(deps, cfg), workflow.NodeOptions{
		Writes:  []string{FieldReport, FieldFinalOutput, FieldWarnings},
		Timeout: cfg.Timeouts.Report,
	})

	for _, id := range []string{NodeRestaurants, NodeAttractions, NodeHotels, NodeTransport} {
		b.AddEdge(NodeParse, id)
		b.AddEdge(id, NodeNormalize)
	}
	b.AddConditionalEdge(NodeNormalize, routeEnrichment, map[string]string{
		routeSkip:   NodeQuality,
		routeEnrich: NodeEnrich,
	})
	b.SetLoop(workflow.LoopSpec{
		Node:           NodeEnrich,
		Exit:           NodeQuality,
		CounterField:   FieldEnrichmentPasses,
		GapField:       FieldEnrichmentGapRatio,
		ExhaustedField: FieldEnrichmentDone,
		Threshold:      cfg.GapThreshold,
		MaxPasses:      cfg.MaxPasses,
	})
	b.AddEdge(NodeQuality, NodeReport)

	return b.SetEntry(NodeParse).
		SetSink(NodeReport).
		TrackStatuses(FieldAgentStatuses, FieldWarnings).
		Compile()
}

const (
	routeSkip   = "skip"
	routeEnrich = "enrich"
)

// routeEnrichment sends the run through the enrichment loop unless it was
// disabled at submission.
func routeEnrichment(state workflow.View) string {
	if workflow.Value[bool](state, FieldSkipEnrichment) {
		return routeSkip
	}
	return routeEnrich
}
