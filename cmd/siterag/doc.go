// Package main hosts the siterag entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, crawl control and
//     question answering under /api. Crawl requests register a pending job in the
//     JobStore and enqueue it; the response returns immediately with the job ID.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by
//     crawler.queue_depth and are fanned out to a fixed worker pool sized by
//     crawler.concurrency. A full queue fails the job instead of leaving it pending.
//   - Crawl loop: each job walks the site breadth-first from crawler.seed_url,
//     staying on crawler.scope_domain and stopping at crawler.visit_cap pages.
//     Pages are fetched with Colly, optionally re-rendered with Chromedp, and the
//     PDFs and images they link to are fetched in parallel and appended to the
//     page text.
//   - Indexing: text is chunked, embedded through Ollama and upserted into Qdrant
//     (or an in-memory index) under deterministic point IDs, so a recrawl
//     overwrites rather than duplicates.
//   - Answering: questions are embedded, the nearest chunks retrieved and a local
//     model generates the answer. Every dependency failure becomes a readable
//     answer instead of an HTTP error.
//   - Scheduling: a cron entry (schedule.cron, default Sunday 02:00) submits a
//     crawl through the same path as the API.
//
// Quick checklist:
//   - Configure env vars with the SITERAG_ prefix, e.g. SITERAG_SERVER_PORT,
//     SITERAG_CRAWLER_SEED_URL, SITERAG_VECTOR_URL, SITERAG_EMBEDDING_BASE_URL.
//   - Run locally: go run ./cmd/siterag serve --config config.yaml
//   - One-off crawl: go run ./cmd/siterag crawl
//   - Ask from the shell: go run ./cmd/siterag ask "When does registration open?"
package main
