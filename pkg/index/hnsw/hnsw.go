// Package hnsw implements a Hierarchical Navigable Small World index
// (Malkov & Yashunin, 2018): a layered proximity graph with logarithmic
// routing on the sparse upper layers and a dense layer 0.
package hnsw

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fletchdb/fletch/pkg/index"
	"github.com/fletchdb/fletch/pkg/vectortypes"
)

// Config holds the construction and search parameters of the graph.
// Parameters are fixed at creation.
type Config struct {
	// M is the number of connections per node on layers >= 1.
	M int

	// MMax0 is the connection cap at layer 0, typically 2*M.
	MMax0 int

	// EfConstruction is the candidate width during insertion.
	EfConstruction int

	// EfSearch is the default candidate width during queries.
	EfSearch int

	// MaxLayers caps the height of the graph.
	MaxLayers int

	// RandomSeed fixes level sampling for reproducible builds. Zero means
	// seed from the clock.
	RandomSeed int64

	// ml is the level generation factor 1/ln(M).
	ml float64
}

// DefaultConfig returns the default HNSW parameters.
func DefaultConfig() Config {
	return Config{
		M:              16,
		MMax0:          32,
		EfConstruction: 200,
		EfSearch:       50,
		MaxLayers:      16,
	}
}

func (c *Config) normalize() error {
	if c.M < 2 {
		return fmt.Errorf("m must be at least 2, got %d", c.M)
	}
	if c.MMax0 <= 0 {
		c.MMax0 = 2 * c.M
	}
	if c.EfConstruction <= 0 || c.EfSearch <= 0 {
		return index.ErrInvalidEF
	}
	if c.MaxLayers <= 0 {
		c.MaxLayers = 16
	}
	c.ml = 1.0 / math.Log(float64(c.M))
	return nil
}

// Index is an HNSW-backed approximate nearest neighbor index. A single
// coarse RWMutex guards the graph: searches share the read lock, mutations
// take the write lock.
type Index struct {
	mu      sync.RWMutex
	graph   *graph
	handles map[string]uint32
}

// New creates an HNSW index for the given metric and parameters.
func New(distType vectortypes.DistanceType, cfg Config) (*Index, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Index{
		graph:   newGraph(distType, cfg, seed),
		handles: make(map[string]uint32),
	}, nil
}

// Insert adds a vector to the index, replacing any existing entry with the
// same ID.
func (idx *Index) Insert(id string, vector vectortypes.F32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.handles[id]; ok {
		idx.graph.remove(old)
	}

	handle := idx.graph.insert(id, vectortypes.Clone(vector))
	idx.handles[id] = handle
	return nil
}

// Delete removes a vector from the index. Deleting an absent ID is a no-op.
func (idx *Index) Delete(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	handle, ok := idx.handles[id]
	if !ok {
		return nil
	}

	idx.graph.remove(handle)
	delete(idx.handles, id)
	return nil
}

// Search finds the k nearest vectors using the configured EfSearch width.
func (idx *Index) Search(query vectortypes.F32, k int) ([]index.SearchResult, error) {
	return idx.SearchWithEF(query, k, idx.graph.cfg.EfSearch)
}

// SearchWithEF finds the k nearest vectors with an explicit candidate
// width. The effective width is max(ef, k).
func (idx *Index) SearchWithEF(query vectortypes.F32, k, ef int) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if ef <= 0 {
		return nil, index.ErrInvalidEF
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	found := idx.graph.searchKNN(query, k, ef)

	results := make([]index.SearchResult, 0, len(found))
	for _, n := range found {
		results = append(results, index.SearchResult{
			ID:       idx.graph.nodes[n.handle].id,
			Distance: n.distance,
		})
	}
	return results, nil
}

// Size returns the number of vectors in the index.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.graph.count
}

// Contains reports whether the index holds the given ID.
func (idx *Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	_, ok := idx.handles[id]
	return ok
}
