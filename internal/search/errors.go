package search

import (
	"context"
	"errors"

	"github.com/spoton/recommendation-service/internal/domain"
)

// errorType returns a short label for err used in metrics.
func errorType(err error) string {
	var apiErr *domain.ExternalAPIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limit"
	case errors.As(err, &apiErr) && apiErr.StatusCode == 0:
		return "network"
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 500:
		return "server_error"
	case errors.As(err, &apiErr):
		return "client_error"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "other"
	}
}
