package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fletchdb/fletch/pkg/metadata"
	"github.com/fletchdb/fletch/pkg/persistence"
	"github.com/fletchdb/fletch/pkg/vectortypes"
)

func persistentOptions(dir string) Options {
	opts := DefaultOptions()
	opts.Index = IndexFlat
	opts.DataDir = dir
	return opts
}

func TestDurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := New(persistentOptions(dir))
	require.NoError(t, err)

	meta := metadata.Document{"color": metadata.String("red"), "rank": metadata.Int(7)}
	require.NoError(t, s.Insert("v1", vectortypes.F32{1, 2, 3}, meta))
	require.NoError(t, s.Insert("v2", vectortypes.F32{4, 5, 6}, nil))
	require.NoError(t, s.Delete("v2"))
	require.NoError(t, s.Close())

	s, err = New(persistentOptions(dir))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 1, s.Len())

	vec, gotMeta, err := s.Get("v1")
	require.NoError(t, err)
	assert.Equal(t, vectortypes.F32{1, 2, 3}, vec)
	assert.True(t, gotMeta["color"].Equal(metadata.String("red")))
	assert.True(t, gotMeta["rank"].Equal(metadata.Int(7)))

	_, _, err = s.Get("v2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotEquivalence(t *testing.T) {
	singleDir := t.TempDir()
	reopenDir := t.TempDir()

	mutate := func(s *Store, from, to int) {
		for i := from; i < to; i++ {
			require.NoError(t, s.Insert(fmt.Sprintf("v%03d", i),
				vectortypes.F32{float32(i), float32(i % 7)},
				metadata.Document{"i": metadata.Int(int64(i))}))
		}
		require.NoError(t, s.Delete(fmt.Sprintf("v%03d", from)))
	}

	// One continuous session.
	single, err := New(persistentOptions(singleDir))
	require.NoError(t, err)
	mutate(single, 0, 50)
	mutate(single, 50, 100)

	// The same mutations split across a close/reopen boundary.
	reopen, err := New(persistentOptions(reopenDir))
	require.NoError(t, err)
	mutate(reopen, 0, 50)
	require.NoError(t, reopen.Close())
	reopen, err = New(persistentOptions(reopenDir))
	require.NoError(t, err)
	mutate(reopen, 50, 100)

	assert.Equal(t, single.List(), reopen.List())
	for _, id := range single.List() {
		v1, m1, err := single.Get(id)
		require.NoError(t, err)
		v2, m2, err := reopen.Get(id)
		require.NoError(t, err)
		assert.Equal(t, v1, v2)
		assert.Equal(t, len(m1), len(m2))
		for k := range m1 {
			assert.True(t, m1[k].Equal(m2[k]))
		}
	}

	require.NoError(t, single.Close())
	require.NoError(t, reopen.Close())
}

func TestCheckpointCompaction(t *testing.T) {
	dir := t.TempDir()

	opts := persistentOptions(dir)
	opts.CheckpointEvery = 1000

	s, err := New(opts)
	require.NoError(t, err)
	for i := 0; i < 1500; i++ {
		require.NoError(t, s.Insert(fmt.Sprintf("v%04d", i), vectortypes.F32{float32(i)}, nil))
	}
	require.NoError(t, s.Close())

	// The snapshot absorbed the first 1,000 records, so the WAL holds only
	// the remaining 500 and must be far smaller than a raw 1,500-entry log.
	walStat, err := os.Stat(filepath.Join(dir, persistence.WALFile))
	require.NoError(t, err)
	snapStat, err := os.Stat(filepath.Join(dir, persistence.SnapshotFile))
	require.NoError(t, err)
	assert.Positive(t, snapStat.Size())
	assert.Less(t, walStat.Size(), int64(1500*20))

	s, err = New(opts)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 1500, s.Len())
	for _, id := range []string{"v0000", "v0999", "v1000", "v1499"} {
		_, _, err := s.Get(id)
		assert.NoError(t, err, id)
	}
}

func TestWALTailTruncationTolerance(t *testing.T) {
	dir := t.TempDir()

	s, err := New(persistentOptions(dir))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Insert(fmt.Sprintf("v%d", i), vectortypes.F32{float32(i), 1}, nil))
	}
	require.NoError(t, s.Close())

	// Truncate the last 3 bytes, as a crash mid-append would.
	walPath := filepath.Join(dir, persistence.WALFile)
	data, err := os.ReadFile(walPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(walPath, data[:len(data)-3], 0o644))

	s, err = New(persistentOptions(dir))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 9, s.Len())
	_, _, err = s.Get("v9")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.Get("v8")
	assert.NoError(t, err)

	// The store keeps working after tail recovery.
	require.NoError(t, s.Insert("v9", vectortypes.F32{9, 1}, nil))
	assert.Equal(t, 10, s.Len())
}

func TestDeleteOfAbsentIDIsLogged(t *testing.T) {
	dir := t.TempDir()

	s, err := New(persistentOptions(dir))
	require.NoError(t, err)
	require.NoError(t, s.Delete("never-existed"))
	require.NoError(t, s.Insert("v1", vectortypes.F32{1}, nil))
	require.NoError(t, s.Close())

	// Replay applies the no-op delete then the insert without complaint.
	s, err = New(persistentOptions(dir))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, s.Len())
}

func TestMetricMismatchRejected(t *testing.T) {
	dir := t.TempDir()

	opts := persistentOptions(dir)
	opts.CheckpointEvery = 1
	s, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, s.Insert("v1", vectortypes.F32{1}, nil))
	require.NoError(t, s.Close())

	other := persistentOptions(dir)
	other.Metric = vectortypes.Cosine
	_, err = New(other)
	assert.ErrorIs(t, err, ErrMetricMismatch)
}

func TestConcurrentOpenFails(t *testing.T) {
	dir := t.TempDir()

	s, err := New(persistentOptions(dir))
	require.NoError(t, err)
	defer s.Close()

	_, err = New(persistentOptions(dir))
	assert.ErrorIs(t, err, persistence.ErrDirLocked)
}

func TestPersistentHNSWRecovery(t *testing.T) {
	dir := t.TempDir()

	opts := DefaultOptions()
	opts.Index = IndexHNSW
	opts.DataDir = dir

	s, err := New(opts)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Insert(fmt.Sprintf("v%03d", i),
			vectortypes.F32{float32(i), float32(i % 5)}, nil))
	}
	require.NoError(t, s.Close())

	s, err = New(opts)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 100, s.Len())

	// The rebuilt graph answers queries with the recovered vectors.
	results, err := s.Search(vectortypes.F32{42, 2}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v042", results[0].ID)
}
