package agents

import (
	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/workflow"
)

// Seed returns the initial state of a run. Provided constraints bypass
// prompt parsing.
func Seed(prompt string, constraints *domain.Constraints, skipEnrichment bool) workflow.Update {
	u := workflow.Update{
		FieldPrompt:         prompt,
		FieldSkipEnrichment: skipEnrichment,
	}
	if constraints != nil {
		u[FieldConstraints] = *constraints
	}
	return u
}

// FinalOutput returns the output document of a finished run. When the report
// writer did not run, it is assembled from whatever the state holds.
func FinalOutput(state workflow.View) domain.FinalOutput {
	if out, ok := workflow.Lookup[domain.FinalOutput](state, FieldFinalOutput); ok {
		return out
	}
	return finalOutputFrom(state)
}

// Warnings returns the accumulated run warnings.
func Warnings(state workflow.View) []string {
	return workflow.Value[[]string](state, FieldWarnings)
}

// Statuses returns the per-node statuses recorded in the state.
func Statuses(state workflow.View) map[string]domain.NodeStatus {
	return workflow.Value[map[string]domain.NodeStatus](state, FieldAgentStatuses)
}

// ConstraintsOf returns the constraints the run was planned against.
func ConstraintsOf(state workflow.View) (domain.Constraints, bool) {
	return workflow.Lookup[domain.Constraints](state, FieldConstraints)
}
