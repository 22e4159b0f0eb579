// Package events fans run progress out to Kafka and consumes remote run
// control commands.
//
// Postgres stays the source of truth for the run event log. The Publisher is
// a secondary EventSink composed with the repository through MultiSink, so a
// broker outage degrades to a logged error and never fails a run.
package events
