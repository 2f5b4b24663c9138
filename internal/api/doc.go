// Package api hosts the HTTP server, middleware, and REST handlers for operator
// and dashboard access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /api/system/... for status, statistics and manual cleanup.
//   - /api/crawler/... for task control, the current task and test crawls.
//   - /api/crawler/runs for crawl-run diagnostics via runs.Repository.
//   - /api/projects/... for index queries and version history.
package api
