package agents

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/spoton/recommendation-service/internal/dedup"
	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/llm"
	"github.com/spoton/recommendation-service/internal/workflow"
)

// enrichParseConcurrency caps concurrent page parsing calls.
const enrichParseConcurrency = 5

type enrichNode struct {
	*agent
}

func newEnrichNode(deps Deps, cfg Config) workflow.Node {
	return &enrichNode{agent: newAgent(deps, cfg, NodeEnrich)}
}

// candidates returns items that have a URL, still miss enrichable fields and
// were not attempted in an earlier pass.
func candidates(items []domain.Item, attempted domain.EnrichedData, limit int) []domain.Item {
	var out []domain.Item
	for _, it := range items {
		if limit > 0 && len(out) == limit {
			break
		}
		if it.ItemURL() == "" || len(it.MissingEnrichable()) == 0 {
			continue
		}
		if _, done := attempted[it.ItemID()]; done {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (n *enrichNode) Execute(ctx context.Context, state workflow.View) workflow.Result {
	enriched := workflow.Value[domain.EnrichedData](state, FieldEnrichedData)
	items := normalizedFrom(state).merge(enriched).items()

	batch := candidates(items, enriched, n.cfg.EnrichBatchSize)
	if len(batch) == 0 {
		gap := GapRatio(items)
		n.logger.Info().Float64("gap_ratio", gap).Msg("nothing left to enrich")
		return workflow.Skipped(workflow.Update{FieldEnrichmentGapRatio: gap, FieldEnrichmentDone: true})
	}

	urls := make([]string, 0, len(batch))
	for _, it := range batch {
		urls = append(urls, it.ItemURL())
	}
	extracted, err := n.deps.Search.Extract(ctx, urls)
	if err != nil {
		return workflow.Failed(fmt.Errorf("extract: %w", err))
	}
	pages := make(map[string]string, len(extracted.Pages))
	for _, p := range extracted.Pages {
		pages[dedup.CanonicalizeURL(p.URL)] = p.RawContent
	}

	found := make([]domain.Enrichment, len(batch))
	var g errgroup.Group
	g.SetLimit(enrichParseConcurrency)
	for i, it := range batch {
		content, ok := pages[dedup.CanonicalizeURL(it.ItemURL())]
		if !ok || content == "" {
			continue
		}
		g.Go(func() error {
			var e domain.Enrichment
			err := llm.CompleteJSON(ctx, n.deps.LLM, llm.Request{
				Operation: "enrich_page",
				System:    enrichPrompt(it.Category()),
				User:      fmt.Sprintf("Item: %s\nURL: %s\n\n%s", it.ItemName(), it.ItemURL(), truncate(content, n.cfg.EnrichContentLimit)),
				MaxTokens: 500,
			}, &e)
			if err != nil {
				n.logger.Debug().Err(err).Str("item", it.ItemID()).Msg("page parsing failed")
				return nil
			}
			found[i] = relevant(it.Category(), e)
			return nil
		})
	}
	_ = g.Wait()

	update := make(domain.EnrichedData, len(batch))
	next := make(domain.EnrichedData, len(enriched)+len(batch))
	for id, e := range enriched {
		next[id] = e
	}
	succeeded := 0
	for i, it := range batch {
		update[it.ItemID()] = found[i]
		next[it.ItemID()] = found[i]
		if !found[i].IsEmpty() {
			succeeded++
		}
	}
	after := normalizedFrom(state).merge(next).items()
	gap := GapRatio(after)
	exhausted := len(candidates(after, next, 1)) == 0

	u := workflow.Update{
		FieldEnrichedData:       update,
		FieldEnrichmentGapRatio: gap,
		FieldEnrichmentDone:     exhausted,
	}
	msg := fmt.Sprintf("enriched %d/%d items, gap ratio %.2f", succeeded, len(batch), gap)
	n.logger.Info().
		Int("enriched", succeeded).
		Int("attempted", len(batch)).
		Int("extract_failed", len(extracted.Failed)).
		Float64("gap_ratio", gap).
		Bool("exhausted", exhausted).
		Msg("enrichment pass complete")

	if succeeded*2 < len(batch) {
		u[FieldWarnings] = []string{fmt.Sprintf("Only enriched %d/%d items", succeeded, len(batch))}
		return workflow.Result{Update: u, Status: domain.NodeStatusPartial, Message: msg}
	}
	return workflow.Result{Update: u, Status: domain.NodeStatusCompleted, Message: msg}
}

// relevant keeps only the enrichment fields of the given category.
func relevant(category domain.Category, e domain.Enrichment) domain.Enrichment {
	var out domain.Enrichment
	switch category {
	case domain.CategoryRestaurant:
		out.OperatingHours = e.OperatingHours
		out.MenuURL = e.MenuURL
		out.ReservationURL = e.ReservationURL
		out.PriceRange = e.PriceRange
		out.Cuisine = e.Cuisine
		out.Rating = e.Rating
	case domain.CategoryAttraction:
		out.OperatingHours = e.OperatingHours
		out.AdmissionPrice = e.AdmissionPrice
		out.ReservationURL = e.ReservationURL
		out.Kind = e.Kind
	case domain.CategoryHotel:
		out.PricePerNight = e.PricePerNight
		out.Amenities = e.Amenities
	case domain.CategoryCar:
		out.PricePerDay = e.PricePerDay
		out.VehicleClass = e.VehicleClass
		out.OperatingHours = e.OperatingHours
	case domain.CategoryFlight:
		out.PriceRange = e.PriceRange
	}
	return out
}
