package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recommendation service.
// Metrics are organized by subsystem: runs, workflow nodes, search, LLM,
// streaming and event publishing. All collectors are registered via promauto
// with the default Prometheus registry.
//
// Record methods are safe to call on a nil *Metrics so that components can be
// constructed without metrics in tests.
type Metrics struct {
	// RunsStarted counts runs that moved from queued to running.
	RunsStarted prometheus.Counter

	// RunsCompleted counts runs that reached done.
	RunsCompleted prometheus.Counter

	// RunsFailed counts runs that ended in error.
	RunsFailed prometheus.Counter

	// RunsCancelled counts runs that ended cancelled.
	RunsCancelled prometheus.Counter

	// RunDuration observes the end-to-end duration of runs in seconds.
	RunDuration prometheus.Histogram

	// NodeExecutions counts node executions, labeled by node and terminal status.
	NodeExecutions *prometheus.CounterVec

	// NodeDuration observes node execution time in seconds, labeled by node.
	NodeDuration *prometheus.HistogramVec

	// NodeRetries counts retried node attempts, labeled by node.
	NodeRetries *prometheus.CounterVec

	// EnrichmentPasses observes how many enrichment passes a run performed.
	EnrichmentPasses prometheus.Histogram

	// SearchRequestsTotal counts requests to the search provider, labeled by endpoint.
	SearchRequestsTotal *prometheus.CounterVec

	// SearchRequestsFailed counts failed search provider requests, labeled by endpoint and error type.
	SearchRequestsFailed *prometheus.CounterVec

	// SearchRequestDuration observes search provider latency in seconds, labeled by endpoint.
	SearchRequestDuration *prometheus.HistogramVec

	// SearchRateLimited counts 429 responses from the search provider.
	SearchRateLimited prometheus.Counter

	// LLMRequestsTotal counts LLM API requests, labeled by operation and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests, labeled by operation, model, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM API request duration in seconds, labeled by operation and model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed counts tokens consumed by LLM operations, labeled by operation, model, and token type.
	LLMTokensUsed *prometheus.CounterVec

	// StreamsActive is the number of open SSE event streams.
	StreamsActive prometheus.Gauge

	// EventsPublished counts events written to the message bus, labeled by topic.
	EventsPublished *prometheus.CounterVec

	// EventsPublishFailed counts failed event writes, labeled by topic.
	EventsPublishFailed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Runs
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of recommendation runs started",
		}),
		RunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of recommendation runs completed successfully",
		}),
		RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_failed_total",
			Help:      "Total number of recommendation runs that ended in error",
		}),
		RunsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_cancelled_total",
			Help:      "Total number of recommendation runs cancelled",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of recommendation runs in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 90, 120, 180, 300},
		}),

		// Workflow nodes
		NodeExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of workflow node executions by status",
		}, []string{"node", "status"}),
		NodeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Duration of workflow node executions in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"node"}),
		NodeRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Total number of retried workflow node attempts",
		}, []string{"node"}),
		EnrichmentPasses: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_passes",
			Help:      "Number of enrichment passes per run",
			Buckets:   []float64{0, 1, 2, 3, 5},
		}),

		// Search provider
		SearchRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Total number of search provider requests",
		}, []string{"endpoint"}),
		SearchRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_failed_total",
			Help:      "Total number of failed search provider requests",
		}, []string{"endpoint", "error_type"}),
		SearchRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_request_duration_seconds",
			Help:      "Duration of search provider requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
		SearchRateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_rate_limited_total",
			Help:      "Total number of rate-limited search provider responses",
		}),

		// LLM
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		}, []string{"operation", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM requests",
		}, []string{"operation", "model", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"operation", "model"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used by LLM operations",
		}, []string{"operation", "model", "token_type"}),

		// Transport and events
		StreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_streams_active",
			Help:      "Number of open run event streams",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published to the message bus",
		}, []string{"topic"}),
		EventsPublishFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_publish_failed_total",
			Help:      "Total number of events that failed to publish",
		}, []string{"topic"}),
	}
}

// RecordRunStarted records that a run has started.
func (m *Metrics) RecordRunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
}

// RecordRunCompleted records that a run has completed.
func (m *Metrics) RecordRunCompleted(durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsCompleted.Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordRunFailed records that a run has failed.
func (m *Metrics) RecordRunFailed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsFailed.Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordRunCancelled records that a run has been cancelled.
func (m *Metrics) RecordRunCancelled() {
	if m == nil {
		return
	}
	m.RunsCancelled.Inc()
}

// RecordNodeExecution records one finished node execution.
func (m *Metrics) RecordNodeExecution(node, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.NodeExecutions.WithLabelValues(node, status).Inc()
	m.NodeDuration.WithLabelValues(node).Observe(durationSeconds)
}

// RecordNodeRetry records a retried node attempt.
func (m *Metrics) RecordNodeRetry(node string) {
	if m == nil {
		return
	}
	m.NodeRetries.WithLabelValues(node).Inc()
}

// RecordEnrichmentPasses records the number of enrichment passes of a run.
func (m *Metrics) RecordEnrichmentPasses(passes int) {
	if m == nil {
		return
	}
	m.EnrichmentPasses.Observe(float64(passes))
}

// RecordSearchRequest records a request to the search provider.
func (m *Metrics) RecordSearchRequest(endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(endpoint).Inc()
	m.SearchRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}

// RecordSearchRequestFailed records a failed request to the search provider.
func (m *Metrics) RecordSearchRequestFailed(endpoint, errorType string) {
	if m == nil {
		return
	}
	m.SearchRequestsFailed.WithLabelValues(endpoint, errorType).Inc()
}

// RecordSearchRateLimited records a rate limit response from the search provider.
func (m *Metrics) RecordSearchRateLimited() {
	if m == nil {
		return
	}
	m.SearchRateLimited.Inc()
}

// RecordLLMRequest records an LLM request.
func (m *Metrics) RecordLLMRequest(operation, model string, durationSeconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(operation, model).Inc()
	m.LLMRequestDuration.WithLabelValues(operation, model).Observe(durationSeconds)
	m.LLMTokensUsed.WithLabelValues(operation, model, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(operation, model, "output").Add(float64(outputTokens))
}

// RecordLLMRequestFailed records a failed LLM request.
func (m *Metrics) RecordLLMRequestFailed(operation, model, errorType string) {
	if m == nil {
		return
	}
	m.LLMRequestsFailed.WithLabelValues(operation, model, errorType).Inc()
}

// StreamOpened records an SSE stream being opened.
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.StreamsActive.Inc()
}

// StreamClosed records an SSE stream being closed.
func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.StreamsActive.Dec()
}

// RecordEventPublished records an event written to topic.
func (m *Metrics) RecordEventPublished(topic string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(topic).Inc()
}

// RecordEventPublishFailed records a failed write to topic.
func (m *Metrics) RecordEventPublishFailed(topic string) {
	if m == nil {
		return
	}
	m.EventsPublishFailed.WithLabelValues(topic).Inc()
}
