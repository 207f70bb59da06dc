// Package index defines the contract shared by all vector index
// implementations.
package index

import (
	"errors"

	"github.com/fletchdb/fletch/pkg/vectortypes"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
	// ErrInvalidEF is returned when the search width is not positive.
	ErrInvalidEF = errors.New("ef must be positive")
)

// SearchResult represents a single index hit. Distance follows the internal
// min-is-best convention of the index's metric.
type SearchResult struct {
	ID       string
	Distance float32
}

// Index is the interface that must be implemented by all indexes.
// Implementations are safe for concurrent use: searches may run in
// parallel, mutations are exclusive.
type Index interface {
	// Insert adds a vector to the index, overwriting any existing entry
	// with the same ID.
	Insert(id string, vector vectortypes.F32) error

	// Delete removes a vector from the index. Deleting an absent ID is a
	// no-op.
	Delete(id string) error

	// Search finds the k nearest vectors to the query vector, ordered
	// best-first. Fewer than k results are returned if the index holds
	// fewer than k vectors.
	Search(query vectortypes.F32, k int) ([]SearchResult, error)

	// SearchWithEF searches with an explicit candidate width. Indexes
	// without a tunable width treat it like Search.
	SearchWithEF(query vectortypes.F32, k, ef int) ([]SearchResult, error)

	// Size returns the number of vectors in the index.
	Size() int

	// Contains reports whether the index holds the given ID.
	Contains(id string) bool
}
