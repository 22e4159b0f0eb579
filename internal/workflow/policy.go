package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spoton/recommendation-service/internal/domain"
)

// Criticality determines how the executor handles a node that failed after
// exhausting its retries.
type Criticality int

const (
	// Important nodes degrade: the failure is recorded with a warning and the
	// graph continues. This is the default.
	Important Criticality = iota

	// Critical nodes abort the run when they fail.
	Critical

	// NonCritical nodes are recorded as skipped without a warning.
	NonCritical
)

// String returns a human-readable name for the criticality level.
func (c Criticality) String() string {
	switch c {
	case Critical:
		return "critical"
	case Important:
		return "important"
	case NonCritical:
		return "non-critical"
	default:
		return "unknown"
	}
}

// RetryPolicy configures in-node retries of transient failures. Each attempt
// gets the node's full timeout.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts for transient errors.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier controls exponential growth of the backoff interval.
	BackoffMultiplier float64

	// MaxBackoff caps the backoff interval.
	MaxBackoff time.Duration
}

// backoffForAttempt computes the backoff duration for the given attempt (0-indexed).
func (p RetryPolicy) backoffForAttempt(attempt int) time.Duration {
	backoff := p.InitialBackoff
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * mult)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

// ErrorCategory classifies node errors for retry decisions.
type ErrorCategory int

const (
	// Transient errors are temporary failures worth retrying.
	Transient ErrorCategory = iota

	// Permanent errors will not succeed on retry.
	Permanent
)

// String returns a human-readable name for the category.
func (c ErrorCategory) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// transientSubstrings are error message substrings that indicate a transient
// failure when the error is not already classified by a structured type.
var transientSubstrings = []string{
	"timeout",
	"timed out",
	"network",
	"connection refused",
	"connection reset",
	"rate limit",
	"rate_limit",
	"server_error",
	"service unavailable",
	"temporary",
	"i/o timeout",
}

// permanentSubstrings indicate a permanent failure. "unauthorized" is used
// instead of "auth" so that "author" does not match.
var permanentSubstrings = []string{
	"unauthorized",
	"authentication failed",
	"forbidden",
	"bad request",
	"bad_request",
	"not found",
	"invalid request",
	"invalid parameter",
	"validation",
	"content_filter",
}

// Classify inspects err and returns its ErrorCategory.
//
// Cancellation, node timeouts and structural errors are permanent. Typed external API errors
// decide by status code. Domain sentinels come next, then message substrings
// (transient first). Unknown errors are treated as transient.
func Classify(err error) ErrorCategory {
	if err == nil {
		return Permanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNodeTimeout) || errors.Is(err, ErrStructural) {
		return Permanent
	}

	var apiErr *domain.ExternalAPIError
	if errors.As(err, &apiErr) {
		if apiErr.IsTransient() {
			return Transient
		}
		return Permanent
	}

	if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrServiceUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound) {
		return Permanent
	}

	msg := strings.ToLower(err.Error())
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return Transient
		}
	}
	for _, sub := range permanentSubstrings {
		if strings.Contains(msg, sub) {
			return Permanent
		}
	}
	return Transient
}
