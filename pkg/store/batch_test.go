package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fletchdb/fletch/pkg/metadata"
	"github.com/fletchdb/fletch/pkg/vectortypes"
)

func TestBatchInsert(t *testing.T) {
	s := newFlatStore(t, vectortypes.Euclidean)

	n, err := s.BatchInsert([]BatchItem{
		{ID: "a", Vector: vectortypes.F32{1, 0}},
		{ID: "b", Vector: vectortypes.F32{0, 1}, Metadata: metadata.Document{"x": metadata.Bool(true)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, s.Len())
}

func TestBatchInsertStopsAtFirstInvalid(t *testing.T) {
	s := newFlatStore(t, vectortypes.Euclidean)

	n, err := s.BatchInsert([]BatchItem{
		{ID: "a", Vector: vectortypes.F32{1, 0}},
		{ID: "b", Vector: vectortypes.F32{1, 0, 0}}, // wrong dimension
		{ID: "c", Vector: vectortypes.F32{0, 1}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, n)

	// The first item survives, the rest were never applied.
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.idx.Contains("a"))
	assert.False(t, s.idx.Contains("c"))
}

func TestBatchDelete(t *testing.T) {
	s := newFlatStore(t, vectortypes.Euclidean)
	_, err := s.BatchInsert([]BatchItem{
		{ID: "a", Vector: vectortypes.F32{1}},
		{ID: "b", Vector: vectortypes.F32{2}},
	})
	require.NoError(t, err)

	require.NoError(t, s.BatchDelete([]string{"a", "b", "absent"}))
	assert.Equal(t, 0, s.Len())
}

func TestBatchSearchOrderMatchesQueries(t *testing.T) {
	s := newFlatStore(t, vectortypes.Euclidean)

	require.NoError(t, s.Insert("x", vectortypes.F32{1, 0, 0}, nil))
	require.NoError(t, s.Insert("y", vectortypes.F32{0, 1, 0}, nil))
	require.NoError(t, s.Insert("z", vectortypes.F32{0, 0, 1}, nil))

	queries := []Query{
		{Vector: vectortypes.F32{1, 0, 0}, K: 1},
		{Vector: vectortypes.F32{0, 1, 0}, K: 1},
		{Vector: vectortypes.F32{0, 0, 1}, K: 1},
	}

	// Repeat to shake out ordering races in the parallel dispatch.
	for round := 0; round < 20; round++ {
		results, err := s.BatchSearch(context.Background(), queries, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "x", results[0][0].ID)
		assert.Equal(t, "y", results[1][0].ID)
		assert.Equal(t, "z", results[2][0].ID)
	}
}

func TestBatchSearchWithFilter(t *testing.T) {
	s := newFlatStore(t, vectortypes.Euclidean)

	require.NoError(t, s.Insert("red1", vectortypes.F32{1, 0}, metadata.Document{"color": metadata.String("red")}))
	require.NoError(t, s.Insert("blue1", vectortypes.F32{0, 1}, metadata.Document{"color": metadata.String("blue")}))

	queries := []Query{
		{Vector: vectortypes.F32{1, 0}, K: 5},
		{Vector: vectortypes.F32{0, 1}, K: 5},
	}
	results, err := s.BatchSearch(context.Background(), queries, metadata.Eq("color", metadata.String("red")))
	require.NoError(t, err)

	for _, rs := range results {
		require.Len(t, rs, 1)
		assert.Equal(t, "red1", rs[0].ID)
	}
}

func TestBatchSearchPropagatesError(t *testing.T) {
	s := newFlatStore(t, vectortypes.Euclidean)
	require.NoError(t, s.Insert("a", vectortypes.F32{1, 2}, nil))

	queries := []Query{
		{Vector: vectortypes.F32{1, 2}, K: 1},
		{Vector: vectortypes.F32{1}, K: 1}, // wrong dimension
	}
	_, err := s.BatchSearch(context.Background(), queries, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBatchSearchCancelledContext(t *testing.T) {
	s := newFlatStore(t, vectortypes.Euclidean)
	require.NoError(t, s.Insert("a", vectortypes.F32{1}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.BatchSearch(ctx, []Query{{Vector: vectortypes.F32{1}, K: 1}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// Concurrent searches share the read lock while writers are exclusive; the
// race detector keeps this honest.
func TestConcurrentSearchAndMutate(t *testing.T) {
	s := newFlatStore(t, vectortypes.Euclidean)
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Insert(fmt.Sprintf("v%d", i), vectortypes.F32{float32(i), 0}, nil))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := s.Search(vectortypes.F32{float32(i), 0}, 5, nil); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			id := fmt.Sprintf("w%d", i)
			if err := s.Insert(id, vectortypes.F32{float32(i), 1}, nil); err != nil {
				t.Error(err)
				return
			}
			if err := s.Delete(id); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	wg.Wait()
}
