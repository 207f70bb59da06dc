// Package flat provides a brute-force exact index. It is the reference
// implementation of the index contract: every search computes the distance
// to every stored vector.
package flat

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/fletchdb/fletch/pkg/index"
	"github.com/fletchdb/fletch/pkg/vectortypes"
)

// Index provides brute-force exact search.
type Index struct {
	// Map of vector IDs to vectors
	vectors map[string]vectortypes.F32

	// Distance comparator (min-is-best)
	distFunc vectortypes.DistanceFunc

	// dimension of stored vectors
	vectorDim int

	// Mutex for thread safety
	mu sync.RWMutex
}

// New creates a new exact search index for the given metric.
func New(distType vectortypes.DistanceType) *Index {
	return &Index{
		vectors:  make(map[string]vectortypes.F32),
		distFunc: vectortypes.GetDistanceFuncByType(distType),
	}
}

// Insert adds a vector to the index
func (idx *Index) Insert(id string, vector vectortypes.F32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.vectorDim == 0 {
		idx.vectorDim = len(vector)
	} else if len(vector) != idx.vectorDim {
		return fmt.Errorf("vector dimension mismatch: expected %d, got %d", idx.vectorDim, len(vector))
	}

	// Copy to prevent external modification
	idx.vectors[id] = vectortypes.Clone(vector)
	return nil
}

// Delete removes a vector from the index
func (idx *Index) Delete(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.vectors, id)
	if len(idx.vectors) == 0 {
		idx.vectorDim = 0
	}
	return nil
}

// resultHeap is a bounded max-heap keyed by distance: the worst candidate
// sits on top so overflow eviction is a single pop. Ties order by ID so
// results are stable regardless of map iteration order.
type resultHeap []index.SearchResult

func (h resultHeap) Len() int { return len(h) }
func (h resultHeap) Less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance > h[j].Distance
	}
	return h[i].ID > h[j].ID
}
func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x interface{}) {
	*h = append(*h, x.(index.SearchResult))
}

func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// Search finds the k nearest vectors to the query vector
func (idx *Index) Search(query vectortypes.F32, k int) ([]index.SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	if len(idx.vectors) == 0 {
		return []index.SearchResult{}, nil
	}

	if len(query) != idx.vectorDim {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", idx.vectorDim, len(query))
	}

	results := make(resultHeap, 0, k+1)
	for id, vec := range idx.vectors {
		distance := idx.distFunc(query, vec)
		heap.Push(&results, index.SearchResult{ID: id, Distance: distance})
		if results.Len() > k {
			heap.Pop(&results)
		}
	}

	out := []index.SearchResult(results)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

// SearchWithEF searches with an explicit candidate width. The flat index is
// exact, so the width only has to be valid.
func (idx *Index) SearchWithEF(query vectortypes.F32, k, ef int) ([]index.SearchResult, error) {
	if ef <= 0 {
		return nil, index.ErrInvalidEF
	}
	return idx.Search(query, k)
}

// Size returns the number of vectors in the index
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.vectors)
}

// Contains reports whether the index holds the given ID.
func (idx *Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	_, ok := idx.vectors[id]
	return ok
}
