package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/llm"
	"github.com/spoton/recommendation-service/internal/workflow"
)

// unknownPlace stands in for origin and destination when the prompt cannot
// be parsed.
const unknownPlace = "Unknown"

type parseNode struct {
	*agent
}

func newParseNode(deps Deps, cfg Config) workflow.Node {
	return &parseNode{agent: newAgent(deps, cfg, NodeParse)}
}

// parsedConstraints is the JSON shape the model is asked for.
type parsedConstraints struct {
	Origin        string   `json:"origin"`
	Destination   string   `json:"destination"`
	DepartingDate string   `json:"departing_date"`
	ReturningDate *string  `json:"returning_date"`
	Interests     []string `json:"interests"`
	Budget        string   `json:"budget"`
}

func (n *parseNode) Execute(ctx context.Context, state workflow.View) workflow.Result {
	if c, ok := workflow.Lookup[domain.Constraints](state, FieldConstraints); ok && c.Origin != "" && c.Destination != "" {
		c.Normalize()
		n.logger.Info().Str("origin", c.Origin).Str("destination", c.Destination).Msg("using provided constraints")
		return workflow.Completed(n.update(c))
	}

	prompt := strings.TrimSpace(workflow.Value[string](state, FieldPrompt))
	if prompt == "" {
		return n.fallback("no prompt provided")
	}

	var out parsedConstraints
	err := llm.CompleteJSON(ctx, n.deps.LLM, llm.Request{
		Operation: "parse_request",
		System:    parsePrompt(n.deps.Now().Year()),
		User:      prompt,
		MaxTokens: 500,
	}, &out)
	if err != nil {
		n.logger.Warn().Err(err).Msg("prompt parsing failed")
		return n.fallback(fmt.Sprintf("failed to parse request: %v", err))
	}

	c := domain.Constraints{
		Origin:        out.Origin,
		Destination:   out.Destination,
		DepartingDate: out.DepartingDate,
		Interests:     out.Interests,
		Budget:        domain.BudgetLevel(strings.ToLower(strings.TrimSpace(out.Budget))),
	}
	if out.ReturningDate != nil {
		c.ReturningDate = *out.ReturningDate
	}
	if err := c.Validate(); err != nil {
		n.logger.Warn().Err(err).Msg("parsed constraints are invalid")
		return n.fallback(fmt.Sprintf("failed to parse request: %v", err))
	}

	n.logger.Info().
		Str("origin", c.Origin).
		Str("destination", c.Destination).
		Str("departing_date", c.DepartingDate).
		Msg("parsed constraints")
	return workflow.Completed(n.update(c))
}

// fallback degrades to placeholder constraints so the rest of the graph can
// still run.
func (n *parseNode) fallback(reason string) workflow.Result {
	c := domain.Constraints{
		Origin:        unknownPlace,
		Destination:   unknownPlace,
		DepartingDate: n.deps.Now().UTC().Format("2006-01-02"),
		Budget:        domain.BudgetLevelModerate,
	}
	u := n.update(c)
	u[FieldWarnings] = []string{reason}
	return workflow.Partial(u)
}

func (n *parseNode) update(c domain.Constraints) workflow.Update {
	return workflow.Update{
		FieldConstraints:  c,
		FieldQueryContext: domain.NewQueryContext(c),
	}
}
