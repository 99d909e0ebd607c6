// Package crawler holds the domain model shared by the crawl pipeline and the
// query path: job lifecycle, fetch results, chunks, vector points, and the
// interfaces every adapter (fetchers, stores, embedding and generation
// clients, vector index) implements.
package crawler
