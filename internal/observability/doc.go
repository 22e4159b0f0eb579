// Package observability provides logging, metrics, and context helpers for
// the recommendation service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	ctx = observability.WithRunContextFull(ctx, observability.RunContext{RunID: runID})
//	logger = observability.LoggerFromContext(ctx, logger)
//
// # Metrics
//
//	metrics := observability.NewMetrics("spoton")
//	metrics.RecordNodeExecution("HotelAgent", "completed", 1.4)
//
// Record methods tolerate a nil receiver.
//
// # Standard Fields
//
//   - request_id: HTTP request identifier
//   - run_id: recommendation run identifier
//   - node: workflow node name
//   - category: recommendation category (restaurant, hotel, ...)
//   - trace_id, span_id: distributed trace identifiers
package observability
