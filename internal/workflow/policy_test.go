package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spoton/recommendation-service/internal/domain"
)

func TestCriticality_String(t *testing.T) {
	assert.Equal(t, "critical", Critical.String())
	assert.Equal(t, "important", Important.String())
	assert.Equal(t, "non-critical", NonCritical.String())
	assert.Equal(t, "unknown", Criticality(9).String())
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, BackoffMultiplier: 2, MaxBackoff: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.backoffForAttempt(0))
	assert.Equal(t, 200*time.Millisecond, p.backoffForAttempt(1))
	assert.Equal(t, 300*time.Millisecond, p.backoffForAttempt(2))
	assert.Equal(t, 300*time.Millisecond, p.backoffForAttempt(5))

	flat := RetryPolicy{InitialBackoff: time.Second}
	assert.Equal(t, time.Second, flat.backoffForAttempt(3))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, Permanent},
		{"cancelled", context.Canceled, Permanent},
		{"structural", fmt.Errorf("%w: bad", ErrStructural), Permanent},
		{"deadline", context.DeadlineExceeded, Transient},
		{"node timeout", fmt.Errorf("%w after 30s: %w", ErrNodeTimeout, context.DeadlineExceeded), Permanent},
		{"api 503", domain.NewExternalAPIError("search", 503, "down", nil), Transient},
		{"api 429", domain.NewExternalAPIError("search", 429, "slow down", nil), Transient},
		{"api 401", domain.NewExternalAPIError("llm", 401, "bad key", nil), Permanent},
		{"wrapped api 400", fmt.Errorf("normalize: %w", domain.NewExternalAPIError("llm", 400, "bad", nil)), Permanent},
		{"rate limited sentinel", domain.ErrRateLimited, Transient},
		{"validation", domain.NewValidationError("q", "empty"), Permanent},
		{"not found sentinel", domain.ErrNotFound, Permanent},
		{"timeout message", errors.New("read tcp: i/o timeout"), Transient},
		{"forbidden message", errors.New("403 Forbidden"), Permanent},
		{"author is not auth", errors.New("author lookup flaked"), Transient},
		{"unknown", errors.New("something odd"), Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorCategory_String(t *testing.T) {
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "permanent", Permanent.String())
	assert.Equal(t, "unknown", ErrorCategory(5).String())
}
