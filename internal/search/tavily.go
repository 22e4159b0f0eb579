package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/observability"
)

const (
	// DefaultBaseURL is the Tavily API endpoint.
	DefaultBaseURL = "https://api.tavily.com"

	// DefaultSearchTimeout bounds a single search call.
	DefaultSearchTimeout = 10 * time.Second

	// DefaultExtractTimeout bounds a single extract call.
	DefaultExtractTimeout = 30 * time.Second

	defaultMaxResults = 8

	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 20 << 20
)

// Config configures the Tavily client.
type Config struct {
	BaseURL        string
	APIKey         string
	SearchTimeout  time.Duration
	ExtractTimeout time.Duration
	RateLimit      float64
	BurstSize      int
	MaxRetries     int
	RetryDelay     time.Duration
}

// TavilyClient implements Searcher against the Tavily REST API.
type TavilyClient struct {
	http           *HTTPClient
	baseURL        string
	searchTimeout  time.Duration
	extractTimeout time.Duration
	metrics        *observability.Metrics
	logger         zerolog.Logger
}

// NewTavilyClient creates a Tavily client. A nil metrics value disables
// recording.
func NewTavilyClient(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) (*TavilyClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.NewValidationError("search.api_key", "is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = DefaultExtractTimeout
	}

	return &TavilyClient{
		http: NewHTTPClient(HTTPClientConfig{
			Timeout:     cfg.ExtractTimeout,
			RateLimit:   cfg.RateLimit,
			BurstSize:   cfg.BurstSize,
			MaxRetries:  cfg.MaxRetries,
			RetryDelay:  cfg.RetryDelay,
			BearerToken: cfg.APIKey,
			OnRetry: func(status int) {
				if status == http.StatusTooManyRequests {
					metrics.RecordSearchRateLimited()
				}
			},
		}),
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		searchTimeout:  cfg.SearchTimeout,
		extractTimeout: cfg.ExtractTimeout,
		metrics:        metrics,
		logger:         logger.With().Str("component", "search").Logger(),
	}, nil
}

type tavilySearchRequest struct {
	Query             string   `json:"query"`
	MaxResults        int      `json:"max_results"`
	IncludeRawContent bool     `json:"include_raw_content"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
}

type tavilySearchResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		Score      float64 `json:"score"`
		RawContent *string `json:"raw_content"`
	} `json:"results"`
}

type tavilyExtractRequest struct {
	URLs []string `json:"urls"`
}

type tavilyExtractResponse struct {
	Results []struct {
		URL        string `json:"url"`
		RawContent string `json:"raw_content"`
	} `json:"results"`
	FailedResults []struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	} `json:"failed_results"`
}

// Search runs a single query bounded by the search timeout.
func (c *TavilyClient) Search(ctx context.Context, q Query) ([]domain.SearchResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	var resp tavilySearchResponse
	err := c.post(ctx, "search", c.searchTimeout, tavilySearchRequest{
		Query:             q.Text,
		MaxResults:        maxResults,
		IncludeRawContent: q.IncludeRawContent,
		IncludeDomains:    q.IncludeDomains,
	}, &resp)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		sr := domain.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
			Query:   q.Text,
		}
		if r.RawContent != nil {
			sr.RawContent = *r.RawContent
		}
		results = append(results, sr)
	}
	return results, nil
}

// Extract fetches page contents bounded by the extract timeout.
func (c *TavilyClient) Extract(ctx context.Context, urls []string) (*ExtractResult, error) {
	if len(urls) == 0 {
		return &ExtractResult{}, nil
	}

	var resp tavilyExtractResponse
	if err := c.post(ctx, "extract", c.extractTimeout, tavilyExtractRequest{URLs: urls}, &resp); err != nil {
		return nil, err
	}

	out := &ExtractResult{Pages: make([]ExtractedPage, 0, len(resp.Results))}
	for _, r := range resp.Results {
		out.Pages = append(out.Pages, ExtractedPage{URL: r.URL, RawContent: r.RawContent})
	}
	for _, f := range resp.FailedResults {
		out.Failed = append(out.Failed, f.URL)
	}
	return out, nil
}

// post sends body to the endpoint and decodes the JSON answer into out.
func (c *TavilyClient) post(ctx context.Context, endpoint string, timeout time.Duration, body, out any) (err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			c.metrics.RecordSearchRequestFailed(endpoint, errorType(err))
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Dur("duration", time.Since(start)).Msg("search request failed")
			return
		}
		c.metrics.RecordSearchRequest(endpoint, time.Since(start).Seconds())
		c.logger.Debug().Str("endpoint", endpoint).Dur("duration", time.Since(start)).Msg("search request completed")
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("tavily %s: marshal request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("tavily %s: create request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("tavily %s timed out after %s: %w", endpoint, timeout, err)
		}
		return fmt.Errorf("tavily %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("tavily %s: read response: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.NewExternalAPIError("tavily", resp.StatusCode, errorMessage(data), nil)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("tavily %s: decode response: %w", endpoint, err)
	}
	return nil
}

// errorMessage extracts the "detail" field Tavily uses for errors, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != nil {
		switch d := payload.Detail.(type) {
		case string:
			return d
		case map[string]any:
			if msg, ok := d["error"].(string); ok {
				return msg
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
