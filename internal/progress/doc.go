// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces used to report crawl task and version-store progress. It batches
// events on a background goroutine and fans them out to pluggable sinks such as
// Prometheus metrics, the crawl-run repository, or Pub/Sub notifications.
package progress
