package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/llm"
	"github.com/spoton/recommendation-service/internal/workflow"
)

type reportNode struct {
	*agent
}

func newReportNode(deps Deps, cfg Config) workflow.Node {
	return &reportNode{agent: newAgent(deps, cfg, NodeReport)}
}

// Execute always writes final_output. A failed report call degrades the node
// to partial and leaves the report out.
func (n *reportNode) Execute(ctx context.Context, state workflow.View) workflow.Result {
	out := finalOutputFrom(state)

	if out.MainResults.Total() == 0 {
		n.logger.Info().Msg("no main results, skipping report")
		return workflow.Skipped(workflow.Update{FieldFinalOutput: out})
	}

	qc := workflow.Value[domain.QueryContext](state, FieldQueryContext)
	input, err := json.Marshal(out.MainResults)
	if err != nil {
		return workflow.Failed(fmt.Errorf("marshal main results: %w", err))
	}

	var report domain.TravelReport
	err = llm.CompleteJSON(ctx, n.deps.LLM, llm.Request{
		Operation: "write_report",
		System:    reportPrompt(qc),
		User:      string(input),
		MaxTokens: 4096,
	}, &report)
	if err != nil {
		n.logger.Warn().Err(err).Msg("report generation failed")
		return workflow.Partial(workflow.Update{
			FieldFinalOutput: out,
			FieldWarnings:    []string{fmt.Sprintf("Report generation failed: %v", err)},
		})
	}

	out.Report = &report
	n.logger.Info().Int("itinerary_days", len(report.Itinerary)).Msg("report written")
	return workflow.Completed(workflow.Update{
		FieldReport:      report,
		FieldFinalOutput: out,
	})
}

// finalOutputFrom assembles the output document from the state. Main results
// are recomputed when the quality split did not run.
func finalOutputFrom(state workflow.View) domain.FinalOutput {
	main, ok := workflow.Lookup[domain.MainResults](state, FieldMainResults)
	refs := workflow.Value[[]domain.Reference](state, FieldReferences)
	if !ok {
		main, refs = Split(state)
	}
	if refs == nil {
		refs = []domain.Reference{}
	}
	out := domain.FinalOutput{MainResults: main, References: refs}
	if c, ok := workflow.Lookup[domain.Constraints](state, FieldConstraints); ok {
		out.Constraints = &c
	}
	if qc, ok := workflow.Lookup[domain.QueryContext](state, FieldQueryContext); ok {
		out.QueryContext = &qc
	}
	if r, ok := workflow.Lookup[domain.TravelReport](state, FieldReport); ok {
		out.Report = &r
	}
	return out
}
