package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/observability"
)

// Compile-time interface check.
var _ Searcher = (*TavilyClient)(nil)

func newTavilyTestClient(t *testing.T, handler http.HandlerFunc, metrics *observability.Metrics) *TavilyClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewTavilyClient(Config{
		BaseURL:        srv.URL,
		APIKey:         "tvly-test",
		SearchTimeout:  time.Second,
		ExtractTimeout: time.Second,
		RateLimit:      1000,
		BurstSize:      100,
		MaxRetries:     1,
		RetryDelay:     5 * time.Millisecond,
	}, metrics, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNewTavilyClient_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewTavilyClient(Config{}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTavilyClient_Search(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("search_tavily_ok_test")
	var got tavilySearchRequest

	c := newTavilyTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"query": "best ramen tokyo",
			"results": [
				{"title": "Ichiran", "url": "https://ichiran.example/shibuya", "content": "Tonkotsu", "score": 0.91, "raw_content": "full page"},
				{"title": "Afuri", "url": "https://afuri.example", "content": "Yuzu shio", "score": 0.72, "raw_content": null}
			]
		}`))
	}, metrics)

	results, err := c.Search(context.Background(), Query{
		Text:              "best ramen tokyo",
		MaxResults:        5,
		IncludeRawContent: true,
		IncludeDomains:    []string{"tabelog.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, tavilySearchRequest{
		Query:             "best ramen tokyo",
		MaxResults:        5,
		IncludeRawContent: true,
		IncludeDomains:    []string{"tabelog.com"},
	}, got)

	require.Len(t, results, 2)
	assert.Equal(t, domain.SearchResult{
		Title: "Ichiran", URL: "https://ichiran.example/shibuya", Content: "Tonkotsu",
		RawContent: "full page", Score: 0.91, Query: "best ramen tokyo",
	}, results[0])
	assert.Empty(t, results[1].RawContent)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SearchRequestsTotal.WithLabelValues("search")))
}

func TestTavilyClient_Search_DefaultMaxResults(t *testing.T) {
	t.Parallel()

	var got tavilySearchRequest
	c := newTavilyTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results": []}`))
	}, nil)

	results, err := c.Search(context.Background(), Query{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, defaultMaxResults, got.MaxResults)
}

func TestTavilyClient_Search_EmptyQuery(t *testing.T) {
	t.Parallel()

	c := newTavilyTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}, nil)

	_, err := c.Search(context.Background(), Query{Text: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTavilyClient_Search_Errors(t *testing.T) {
	t.Parallel()

	t.Run("client error carries detail", func(t *testing.T) {
		t.Parallel()

		metrics := observability.NewMetrics("search_tavily_err_test")
		c := newTavilyTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail": {"error": "Unauthorized: missing or invalid API key."}}`))
		}, metrics)

		_, err := c.Search(context.Background(), Query{Text: "x"})
		var apiErr *domain.ExternalAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Contains(t, apiErr.Message, "invalid API key")
		assert.False(t, apiErr.IsTransient())
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SearchRequestsFailed.WithLabelValues("search", "client_error")))
	})

	t.Run("rate limited after retries", func(t *testing.T) {
		t.Parallel()

		metrics := observability.NewMetrics("search_tavily_rate_test")
		c := newTavilyTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}, metrics)

		_, err := c.Search(context.Background(), Query{Text: "x"})
		assert.ErrorIs(t, err, domain.ErrRateLimited)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SearchRateLimited))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SearchRequestsFailed.WithLabelValues("search", "rate_limit")))
	})

	t.Run("times out", func(t *testing.T) {
		t.Parallel()

		c := newTavilyTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(3 * time.Second):
			}
		}, nil)
		c.searchTimeout = 30 * time.Millisecond

		_, err := c.Search(context.Background(), Query{Text: "x"})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "timed out after 30ms")
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()

		c := newTavilyTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"results": [`))
		}, nil)

		_, err := c.Search(context.Background(), Query{Text: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode response")
	})
}

func TestTavilyClient_Extract(t *testing.T) {
	t.Parallel()

	var got tavilyExtractRequest
	c := newTavilyTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"results": [{"url": "https://a.example", "raw_content": "Open 9-5"}],
			"failed_results": [{"url": "https://b.example", "error": "timeout"}]
		}`))
	}, nil)

	res, err := c.Extract(context.Background(), []string{"https://a.example", "https://b.example"})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, got.URLs)
	assert.Equal(t, []ExtractedPage{{URL: "https://a.example", RawContent: "Open 9-5"}}, res.Pages)
	assert.Equal(t, []string{"https://b.example"}, res.Failed)
}

func TestTavilyClient_Extract_NoURLs(t *testing.T) {
	t.Parallel()

	c := newTavilyTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}, nil)

	res, err := c.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Pages)
}
