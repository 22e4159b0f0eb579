package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/spoton/recommendation-service/internal/domain"
)

// HTTPClientConfig configures the rate-limited HTTP client.
type HTTPClientConfig struct {
	// Timeout bounds a single HTTP attempt. Callers bound the whole call
	// through the request context.
	Timeout time.Duration

	// RateLimit is the sustained requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests.
	BurstSize int

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryDelay is the base delay between retries when the server does not
	// send Retry-After.
	RetryDelay time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// BearerToken is sent as "Authorization: Bearer <token>" when set.
	BearerToken string

	// OnRetry is called with the status code (0 for network errors) before
	// every retry.
	OnRetry func(statusCode int)
}

// HTTPClient wraps http.Client with a token bucket and retries on 429 and
// 5xx responses. It is safe for concurrent use.
type HTTPClient struct {
	client  *http.Client
	limiter *rate.Limiter
	config  HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client, applying defaults to unset fields.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 5
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 10
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "SpotOn-RecommendationService/1.0"
	}

	return &HTTPClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize),
		config:  cfg,
	}
}

// Do executes req, waiting on the limiter before every attempt. Requests with
// a body must set GetBody to be retried.
//
// When retries are exhausted on a 429 the error wraps domain.ErrRateLimited;
// on 5xx or network failures it is a *domain.ExternalAPIError.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.BearerToken)
	}

	ctx := req.Context()
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := resetBody(req); err != nil {
				return nil, fmt.Errorf("cannot retry request: %w", err)
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = domain.NewExternalAPIError("search", 0, fmt.Sprintf("request failed: %v", err), nil)
			if attempt == c.config.MaxRetries {
				break
			}
			c.notifyRetry(0)
			if err := sleepCtx(ctx, c.config.RetryDelay); err != nil {
				return nil, err
			}
			continue
		}

		if !shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		delay := c.retryDelay(resp)
		drain(resp)
		lastErr = statusError(resp.StatusCode, delay)
		if attempt == c.config.MaxRetries {
			break
		}
		c.notifyRetry(resp.StatusCode)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exhausted after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *HTTPClient) notifyRetry(status int) {
	if c.config.OnRetry != nil {
		c.config.OnRetry(status)
	}
}

// retryDelay honours Retry-After (seconds or HTTP date) and falls back to the
// configured delay.
func (c *HTTPClient) retryDelay(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return c.config.RetryDelay
	}
	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return c.config.RetryDelay
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}
	return c.config.RetryDelay
}

func shouldRetry(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= 500 && statusCode < 600)
}

func statusError(statusCode int, retryAfter time.Duration) error {
	if statusCode == http.StatusTooManyRequests {
		return domain.NewRateLimitError("search", retryAfter)
	}
	return domain.NewExternalAPIError("search", statusCode, http.StatusText(statusCode), nil)
}

func drain(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func resetBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}
