// Package store implements the vector store: the ID-keyed vector and
// metadata maps, index dispatch, filtered search, and the coupling to the
// persistence engine.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fletchdb/fletch/pkg/index"
	"github.com/fletchdb/fletch/pkg/index/flat"
	"github.com/fletchdb/fletch/pkg/index/hnsw"
	"github.com/fletchdb/fletch/pkg/metadata"
	"github.com/fletchdb/fletch/pkg/metrics"
	"github.com/fletchdb/fletch/pkg/persistence"
	"github.com/fletchdb/fletch/pkg/vectortypes"
)

// IndexKind selects the index implementation backing a store.
type IndexKind string

const (
	// IndexFlat is the exact brute-force index.
	IndexFlat IndexKind = "flat"
	// IndexHNSW is the approximate graph index.
	IndexHNSW IndexKind = "hnsw"
)

// widenMultiplier is the over-fetch factor applied to filtered searches
// before falling back to a full-width pass.
const widenMultiplier = 3

// Options configures a Store.
type Options struct {
	// Metric is the distance metric, fixed for the store's lifetime.
	Metric vectortypes.DistanceType
	// Index selects flat or HNSW. Defaults to HNSW.
	Index IndexKind
	// HNSW carries the graph parameters when Index is IndexHNSW.
	HNSW hnsw.Config
	// DataDir enables persistence when non-empty.
	DataDir string
	// CheckpointEvery overrides the snapshot interval (WAL records).
	CheckpointEvery int
	// Logger receives operational events. Nil means no-op.
	Logger *zap.Logger
	// Metrics, when set, receives operation counts and query latencies.
	Metrics *metrics.Collector
}

// DefaultOptions returns the default store configuration.
func DefaultOptions() Options {
	return Options{
		Metric: vectortypes.Euclidean,
		Index:  IndexHNSW,
		HNSW:   hnsw.DefaultConfig(),
	}
}

// SearchResult is one hit returned to clients: the reported distance
// follows the metric's native convention (raw dot product for Dot).
type SearchResult struct {
	ID       string            `json:"id"`
	Distance float32           `json:"distance"`
	Metadata metadata.Document `json:"metadata,omitempty"`
}

// BatchItem is one record of a batch insert.
type BatchItem struct {
	ID       string
	Vector   vectortypes.F32
	Metadata metadata.Document
}

// Query is one request of a batch search.
type Query struct {
	Vector vectortypes.F32
	K      int
}

// Store owns the vector map, metadata map, and index, and keeps them
// consistent under one RWMutex. When a persistence engine is attached,
// every mutation is made durable before it is applied.
type Store struct {
	mu sync.RWMutex

	vectors map[string]vectortypes.F32
	meta    map[string]metadata.Document
	idx     index.Index

	distType  vectortypes.DistanceType
	dimension int
	searchEF  int

	engine *persistence.Engine
	log    *zap.Logger
	stats  *metrics.Collector
	closed bool
}

// New creates a store. With a DataDir set, the directory is locked and
// prior state is recovered before the store is returned.
func New(opts Options) (*Store, error) {
	if opts.Metric == "" {
		opts.Metric = vectortypes.Euclidean
	}
	if opts.Index == "" {
		opts.Index = IndexHNSW
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	searchEF := 0
	var idx index.Index
	switch opts.Index {
	case IndexFlat:
		idx = flat.New(opts.Metric)
	case IndexHNSW:
		cfg := opts.HNSW
		if cfg.M == 0 {
			cfg = hnsw.DefaultConfig()
		}
		h, err := hnsw.New(opts.Metric, cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		idx = h
		searchEF = cfg.EfSearch
	default:
		return nil, fmt.Errorf("%w: unknown index kind %q", ErrInvalidParameter, opts.Index)
	}

	s := &Store{
		vectors:  make(map[string]vectortypes.F32),
		meta:     make(map[string]metadata.Document),
		idx:      idx,
		distType: opts.Metric,
		searchEF: searchEF,
		log:      opts.Logger,
		stats:    opts.Metrics,
	}

	if opts.DataDir == "" {
		return s, nil
	}

	engine, err := persistence.Open(opts.DataDir, persistence.Options{
		CheckpointEvery: opts.CheckpointEvery,
		Logger:          opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	info, err := engine.Recover(s.applyRecovered)
	if err != nil {
		engine.Close()
		return nil, err
	}
	if info.Metric != "" && info.Metric != string(opts.Metric) {
		engine.Close()
		return nil, fmt.Errorf("%w: directory holds %q, store configured for %q",
			ErrMetricMismatch, info.Metric, opts.Metric)
	}

	s.engine = engine
	s.log.Info("store opened",
		zap.String("data_dir", opts.DataDir),
		zap.String("metric", string(opts.Metric)),
		zap.Int("vectors", len(s.vectors)),
	)
	return s, nil
}

// applyRecovered replays one durable mutation into memory during open.
// No locking: recovery runs before the store is shared.
func (s *Store) applyRecovered(rec persistence.Record) error {
	switch rec.Op {
	case persistence.OpInsert:
		if s.dimension == 0 {
			s.dimension = len(rec.Vector)
		}
		s.vectors[rec.ID] = rec.Vector
		if len(rec.Meta) > 0 {
			s.meta[rec.ID] = rec.Meta
		} else {
			delete(s.meta, rec.ID)
		}
		return s.idx.Insert(rec.ID, rec.Vector)
	case persistence.OpDelete:
		delete(s.vectors, rec.ID)
		delete(s.meta, rec.ID)
		if len(s.vectors) == 0 {
			s.dimension = 0
		}
		return s.idx.Delete(rec.ID)
	default:
		return fmt.Errorf("unknown record op %d", rec.Op)
	}
}

// Insert adds or overwrites a vector with optional metadata. When
// persistence is enabled the mutation is fsynced to the WAL before any
// memory effect.
func (s *Store) Insert(id string, vector vectortypes.F32, meta metadata.Document) error {
	if id == "" {
		return fmt.Errorf("%w: id must not be empty", ErrInvalidParameter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if err := vectortypes.Validate(vector, s.distType); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVector, err)
	}
	if s.dimension != 0 && len(vector) != s.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dimension, len(vector))
	}

	vector = vectortypes.Clone(vector)
	meta = meta.Clone()

	if s.engine != nil {
		if err := s.engine.LogRecord(persistence.Record{
			Op: persistence.OpInsert, ID: id, Vector: vector, Meta: meta,
		}); err != nil {
			return err
		}
	}

	if err := s.idx.Insert(id, vector); err != nil {
		return err
	}

	if s.dimension == 0 {
		s.dimension = len(vector)
	}
	s.vectors[id] = vector
	if len(meta) > 0 {
		s.meta[id] = meta
	} else {
		delete(s.meta, id)
	}

	if s.stats != nil {
		s.stats.RecordInsert()
		s.stats.SetVectorCount(len(s.vectors))
	}

	return s.maybeCheckpoint()
}

// Delete removes a vector. Deleting an absent ID is a no-op that is still
// logged, so replay preserves mutation order.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.engine != nil {
		if err := s.engine.LogRecord(persistence.Record{
			Op: persistence.OpDelete, ID: id,
		}); err != nil {
			return err
		}
	}

	if err := s.idx.Delete(id); err != nil {
		return err
	}
	delete(s.vectors, id)
	delete(s.meta, id)
	if len(s.vectors) == 0 {
		s.dimension = 0
	}

	if s.stats != nil {
		s.stats.RecordDelete()
		s.stats.SetVectorCount(len(s.vectors))
	}

	return s.maybeCheckpoint()
}

// Get returns the vector and metadata for an ID.
func (s *Store) Get(id string) (vectortypes.F32, metadata.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vector, ok := s.vectors[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return vectortypes.Clone(vector), s.meta[id].Clone(), nil
}

// List returns a snapshot of the stored IDs, sorted for determinism.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored vectors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Dimension returns the store's vector dimension, zero while empty.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Metric returns the store's distance metric.
func (s *Store) Metric() vectortypes.DistanceType {
	return s.distType
}

// Search returns the k nearest stored vectors, optionally restricted to
// records matching the filter. Reported distances use the metric's native
// convention.
func (s *Store) Search(query vectortypes.F32, k int, filter *metadata.Filter) ([]SearchResult, error) {
	start := time.Now()

	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", ErrInvalidParameter)
	}
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 {
		return []SearchResult{}, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dimension, len(query))
	}
	if err := vectortypes.Validate(query, s.distType); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVector, err)
	}

	results, err := s.searchLocked(query, k, filter)
	if err != nil {
		return nil, err
	}

	if s.stats != nil {
		s.stats.RecordQuery(time.Since(start))
	}
	return results, nil
}

// searchLocked runs the index query, filtering, widening, and truncation
// under a held read lock.
func (s *Store) searchLocked(query vectortypes.F32, k int, filter *metadata.Filter) ([]SearchResult, error) {
	fetchK := k
	if filter != nil {
		fetchK = k * widenMultiplier
	}
	if ef := s.searchEF; ef > fetchK {
		fetchK = ef
	}
	if fetchK > len(s.vectors) {
		fetchK = len(s.vectors)
	}

	hits, err := s.idx.SearchWithEF(query, fetchK, maxInt(fetchK, s.searchEF))
	if err != nil {
		return nil, err
	}

	matched := s.filterHits(hits, filter, k)

	// Highly selective filters can starve the over-fetched candidate set;
	// retry once against the whole index before settling for fewer than k.
	if filter != nil && len(matched) < k && fetchK < len(s.vectors) {
		full := len(s.vectors)
		hits, err = s.idx.SearchWithEF(query, full, full)
		if err != nil {
			return nil, err
		}
		matched = s.filterHits(hits, filter, k)
	}

	return matched, nil
}

func (s *Store) filterHits(hits []index.SearchResult, filter *metadata.Filter, k int) []SearchResult {
	results := make([]SearchResult, 0, k)
	for _, hit := range hits {
		if len(results) >= k {
			break
		}
		if filter != nil && !filter.Matches(s.meta[hit.ID]) {
			continue
		}
		results = append(results, SearchResult{
			ID:       hit.ID,
			Distance: vectortypes.ReportedDistance(s.distType, hit.Distance),
			Metadata: s.meta[hit.ID].Clone(),
		})
	}
	return results
}

// maybeCheckpoint writes a snapshot once enough WAL records accumulated.
// Called with the write lock held.
func (s *Store) maybeCheckpoint() error {
	if s.engine == nil || !s.engine.ShouldCheckpoint() {
		return nil
	}

	snap := &persistence.Snapshot{
		Metric:    s.distType,
		Dimension: s.dimension,
		Records:   make([]persistence.Record, 0, len(s.vectors)),
	}
	for id, vec := range s.vectors {
		snap.Records = append(snap.Records, persistence.Record{
			Op: persistence.OpInsert, ID: id, Vector: vec, Meta: s.meta[id],
		})
	}

	return s.engine.Checkpoint(snap)
}

// Close flushes nothing (every mutation is already durable) and releases
// the data directory.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true

	if s.engine != nil {
		return s.engine.Close()
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
