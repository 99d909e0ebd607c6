// Package frontier runs the breadth-first crawl loop for one job: a FIFO
// queue plus visited set bounded by a hard visit cap.
package frontier

import (
	"fmt"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// DefaultVisitCap bounds how many URLs a single job may visit.
const DefaultVisitCap = 1000

// Frontier holds the queue and visited set of a single crawl. It is owned by
// one goroutine and is not safe for concurrent use.
type Frontier struct {
	scopeHost string
	visitCap  int
	queue     []string
	visited   map[string]struct{}
	order     []string
}

// New seeds a frontier. An empty scopeHost scopes the crawl to the seed's
// host; a visitCap of zero or less uses DefaultVisitCap.
func New(seed, scopeHost string, visitCap int) (*Frontier, error) {
	normalized, err := crawler.NormalizeURL(seed)
	if err != nil {
		return nil, fmt.Errorf("seed url: %w", err)
	}
	if scopeHost == "" {
		scopeHost = normalized
	}
	if visitCap <= 0 {
		visitCap = DefaultVisitCap
	}
	return &Frontier{
		scopeHost: crawler.ScopeHost(scopeHost),
		visitCap:  visitCap,
		queue:     []string{normalized},
		visited:   make(map[string]struct{}),
	}, nil
}

// Next pops the next unvisited URL and marks it visited. It returns false
// once the queue is drained or the visit cap is reached.
func (f *Frontier) Next() (string, bool) {
	for len(f.queue) > 0 {
		if len(f.visited) >= f.visitCap {
			return "", false
		}
		next := f.queue[0]
		f.queue[0] = ""
		f.queue = f.queue[1:]
		if _, seen := f.visited[next]; seen {
			continue
		}
		f.visited[next] = struct{}{}
		f.order = append(f.order, next)
		return next, true
	}
	return "", false
}

// Enqueue appends in-scope URLs that have not been visited yet and returns
// how many were added. Duplicates already waiting in the queue are allowed;
// Next drops them.
func (f *Frontier) Enqueue(urls ...string) int {
	added := 0
	for _, raw := range urls {
		normalized, err := crawler.NormalizeURL(raw)
		if err != nil {
			continue
		}
		if !crawler.InScope(normalized, f.scopeHost) {
			continue
		}
		if _, seen := f.visited[normalized]; seen {
			continue
		}
		f.queue = append(f.queue, normalized)
		added++
	}
	return added
}

// Visited returns visited URLs in visit order.
func (f *Frontier) Visited() []string {
	return append([]string(nil), f.order...)
}

// VisitedCount is len(Visited()) without the copy.
func (f *Frontier) VisitedCount() int {
	return len(f.visited)
}

// Len returns the number of queued entries, duplicates included.
func (f *Frontier) Len() int {
	return len(f.queue)
}

// ScopeHost returns the host the crawl is restricted to.
func (f *Frontier) ScopeHost() string {
	return f.scopeHost
}
