// Package search provides the web search and page extraction client used by
// the recommendation nodes.
//
// The Searcher interface is implemented by TavilyClient. SearchAll fans a
// set of queries out concurrently and keeps per-query failures so that a
// node can degrade instead of failing outright.
package search

import (
	"context"

	"github.com/spoton/recommendation-service/internal/domain"
)

// Query is a single search request.
type Query struct {
	// Text is the free-text query.
	Text string

	// MaxResults caps the number of results. Zero uses the client default.
	MaxResults int

	// IncludeRawContent asks the provider for the full page text.
	IncludeRawContent bool

	// IncludeDomains restricts results to these domains.
	IncludeDomains []string
}

// ExtractedPage is the text content of one extracted URL.
type ExtractedPage struct {
	URL        string `json:"url"`
	RawContent string `json:"raw_content"`
}

// ExtractResult is the outcome of an extraction batch. URLs the provider
// could not fetch are listed in Failed.
type ExtractResult struct {
	Pages  []ExtractedPage
	Failed []string
}

// Searcher is implemented by search providers.
type Searcher interface {
	// Search runs a single query and returns ranked results.
	Search(ctx context.Context, q Query) ([]domain.SearchResult, error)

	// Extract fetches the text content of the given URLs.
	Extract(ctx context.Context, urls []string) (*ExtractResult, error)
}
