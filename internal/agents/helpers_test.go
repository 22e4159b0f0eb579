package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/llm"
	"github.com/spoton/recommendation-service/internal/search"
	"github.com/spoton/recommendation-service/internal/workflow"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockSearcher struct {
	searchFn  func(ctx context.Context, q search.Query) ([]domain.SearchResult, error)
	extractFn func(ctx context.Context, urls []string) (*search.ExtractResult, error)
}

func (m *mockSearcher) Search(ctx context.Context, q search.Query) ([]domain.SearchResult, error) {
	return m.searchFn(ctx, q)
}

func (m *mockSearcher) Extract(ctx context.Context, urls []string) (*search.ExtractResult, error) {
	if m.extractFn == nil {
		return &search.ExtractResult{Failed: urls}, nil
	}
	return m.extractFn(ctx, urls)
}

// perQuery answers every query with n results whose URLs derive from the query.
func perQuery(n int) func(context.Context, search.Query) ([]domain.SearchResult, error) {
	return func(_ context.Context, q search.Query) ([]domain.SearchResult, error) {
		out := make([]domain.SearchResult, n)
		for i := range out {
			key := strings.ReplaceAll(q.Text, " ", "-")
			out[i] = domain.SearchResult{
				Title:   fmt.Sprintf("%s %d", q.Text, i),
				URL:     fmt.Sprintf("https://site.example/%s/%d", key, i),
				Content: "content for " + q.Text,
				Score:   float64(n-i) / float64(n),
			}
		}
		return out, nil
	}
}

// mockLLM answers by operation name and counts calls.
type mockLLM struct {
	mu       sync.Mutex
	handlers map[string]func(req llm.Request) (string, error)
	calls    map[string]int
}

func newMockLLM() *mockLLM {
	return &mockLLM{
		handlers: map[string]func(llm.Request) (string, error){},
		calls:    map[string]int{},
	}
}

func (m *mockLLM) on(op string, fn func(req llm.Request) (string, error)) *mockLLM {
	m.handlers[op] = fn
	return m
}

func (m *mockLLM) reply(op, content string) *mockLLM {
	return m.on(op, func(llm.Request) (string, error) { return content, nil })
}

func (m *mockLLM) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.calls[req.Operation]++
	fn, ok := m.handlers[req.Operation]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unexpected operation %q", req.Operation)
	}
	content, err := fn(req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: content, Model: "mock-model"}, nil
}

func (m *mockLLM) Provider() string { return "mock" }
func (m *mockLLM) Model() string    { return "mock-model" }

func testDeps(s search.Searcher, c llm.Client) Deps {
	return Deps{
		Search: s,
		LLM:    c,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return fixedNow },
	}
}

// testConfig returns defaults with short timeouts and no search retries.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SearchRetries = 0
	cfg.Timeouts = Timeouts{
		Parse:       2 * time.Second,
		Restaurants: 2 * time.Second,
		Attractions: 2 * time.Second,
		Hotels:      2 * time.Second,
		Transport:   2 * time.Second,
		Normalize:   2 * time.Second,
		Enrich:      2 * time.Second,
		Report:      2 * time.Second,
	}
	return cfg
}

func parisConstraints() domain.Constraints {
	return domain.Constraints{
		Origin:        "New York (JFK)",
		Destination:   "Paris (CDG)",
		DepartingDate: "2026-05-10",
		ReturningDate: "2026-05-14",
		Budget:        domain.BudgetLevelModerate,
	}
}

func parisState(extra workflow.Update) workflow.View {
	c := parisConstraints()
	v := workflow.View{
		FieldConstraints:  c,
		FieldQueryContext: domain.NewQueryContext(c),
	}
	for k, val := range extra {
		v[k] = val
	}
	return v
}

func ptr[T any](v T) *T { return &v }
