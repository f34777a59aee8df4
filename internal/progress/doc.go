// Package progress carries crawl progress from the engine to observers.
// Workers emit Events through a non-blocking Hub which batches them on a
// background goroutine and fans the batches out to sinks: structured logs,
// Prometheus collectors, the run-history repository and Pub/Sub.
package progress
