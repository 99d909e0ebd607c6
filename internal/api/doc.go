// Package api hosts the HTTP server, middleware, and REST handlers.
// Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/scrape/start, GET /api/scrape/status/{job_id} and
//     GET /api/scrape/jobs for crawl control.
//   - POST /api/query, GET /api/documents/status and
//     DELETE /api/documents/clear for the question answering side.
package api
