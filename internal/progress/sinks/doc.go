// Package sinks implements progress.Sink destinations: structured zap logs,
// Prometheus collectors, the run-history repository, and Pub/Sub or Kafka
// topics for crawl milestones.
package sinks
