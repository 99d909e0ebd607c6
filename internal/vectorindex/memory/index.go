// Package memory provides an in-process crawler.VectorIndex using brute-force
// cosine similarity. It backs local runs and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

var _ crawler.VectorIndex = (*Index)(nil)

type collection struct {
	dimension int
	distance  crawler.Distance
	order     []string
	points    map[string]crawler.Point
}

// Index keeps collections in memory.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty Index.
func New() *Index {
	return &Index{collections: make(map[string]*collection)}
}

// GetCollection implements crawler.VectorIndex.
func (i *Index) GetCollection(_ context.Context, name string) (crawler.CollectionInfo, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	c, ok := i.collections[name]
	if !ok {
		return crawler.CollectionInfo{}, crawler.ErrCollectionNotFound
	}
	return crawler.CollectionInfo{
		Name:        name,
		PointsCount: len(c.points),
		VectorSize:  c.dimension,
		Distance:    c.distance,
	}, nil
}

// CreateCollection implements crawler.VectorIndex.
func (i *Index) CreateCollection(_ context.Context, name string, dimension int, distance crawler.Distance) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.collections[name]; ok {
		return fmt.Errorf("collection %s: %w", name, crawler.ErrCollectionExists)
	}
	i.collections[name] = &collection{
		dimension: dimension,
		distance:  distance,
		points:    make(map[string]crawler.Point),
	}
	return nil
}

// Upsert implements crawler.VectorIndex. Points sharing an ID replace the
// stored point in place.
func (i *Index) Upsert(_ context.Context, name string, points []crawler.Point) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	c, ok := i.collections[name]
	if !ok {
		return crawler.ErrCollectionNotFound
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return fmt.Errorf("point %s: vector size %d, want %d", p.ID, len(p.Vector), c.dimension)
		}
	}
	for _, p := range points {
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		p.Vector = append([]float32(nil), p.Vector...)
		c.points[p.ID] = p
	}
	return nil
}

// Search implements crawler.VectorIndex. Ties keep insertion order.
func (i *Index) Search(_ context.Context, name string, vector []float32, limit int) ([]crawler.ScoredPoint, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	c, ok := i.collections[name]
	if !ok {
		return nil, crawler.ErrCollectionNotFound
	}
	if len(vector) != c.dimension {
		return nil, fmt.Errorf("query vector size %d, want %d", len(vector), c.dimension)
	}
	hits := make([]crawler.ScoredPoint, 0, len(c.order))
	for _, id := range c.order {
		p := c.points[id]
		hits = append(hits, crawler.ScoredPoint{ID: id, Score: Cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteCollection implements crawler.VectorIndex.
func (i *Index) DeleteCollection(_ context.Context, name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.collections[name]; !ok {
		return crawler.ErrCollectionNotFound
	}
	delete(i.collections, name)
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 if either is zero.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for k := range a {
		dot += float64(a[k]) * float64(b[k])
		na += float64(a[k]) * float64(a[k])
		nb += float64(b[k]) * float64(b[k])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
