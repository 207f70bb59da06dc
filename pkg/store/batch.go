package store

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/fletchdb/fletch/pkg/metadata"
)

// BatchInsert applies the items in order, stopping at the first failure.
// It returns how many items were inserted; durability order matches the
// request order.
func (s *Store) BatchInsert(items []BatchItem) (int, error) {
	for i, item := range items {
		if err := s.Insert(item.ID, item.Vector, item.Metadata); err != nil {
			return i, fmt.Errorf("item %d (%q): %w", i, item.ID, err)
		}
	}
	return len(items), nil
}

// BatchDelete removes the given IDs in order.
func (s *Store) BatchDelete(ids []string) error {
	for i, id := range ids {
		if err := s.Delete(id); err != nil {
			return fmt.Errorf("item %d (%q): %w", i, id, err)
		}
	}
	return nil
}

// BatchSearch runs the queries in parallel across a worker pool sized to
// the available cores, each under its own shared read lock. The result
// slice is ordered like the queries. A filter, when given, applies to
// every query. The context cancels dispatch between queries; an individual
// search is not interruptible.
func (s *Store) BatchSearch(ctx context.Context, queries []Query, filter *metadata.Filter) ([][]SearchResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	results := make([][]SearchResult, len(queries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g.Go(func() error {
			res, err := s.Search(q.Vector, q.K, filter)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
