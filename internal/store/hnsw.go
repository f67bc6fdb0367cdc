package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSW defaults. Recall against BruteForce is checked in tests.
const (
	DefaultM        = 16
	DefaultEfSearch = 64
	DefaultMl       = 0.25

	// graphOversample widens the graph candidate pool beyond
	// max(k, EfSearch); candidates are rescored exactly.
	graphOversample = 8
)

// HNSWConfig configures an HNSWStore.
type HNSWConfig struct {
	Dimensions int
	Metric     Metric
	M          int
	EfSearch   int
	// ExactBelow is the live-vector count below which Search scans
	// linearly. Zero always uses the graph for cosine stores.
	ExactBelow int
}

// DefaultHNSWConfig returns the default configuration for dim and metric.
func DefaultHNSWConfig(dim int, metric Metric) HNSWConfig {
	return HNSWConfig{
		Dimensions: dim,
		Metric:     metric,
		M:          DefaultM,
		EfSearch:   DefaultEfSearch,
		ExactBelow: BruteForceThreshold,
	}
}

// HNSWStore implements VectorStore with a coder/hnsw graph plus the raw
// vectors used for exact rescoring and persistence. The graph is cosine
// only; inner-product stores are always scanned exactly.
//
// Removal is lazy: the graph node stays but its key is unmapped, and Search
// oversamples by the number of such orphans. Save compacts the graph when
// orphans dominate.
type HNSWStore struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	cfg   HNSWConfig

	vectors map[uint64][]float32 // chunk id -> stored vector
	idMap   map[uint64]uint64    // chunk id -> graph key
	keyMap  map[uint64]uint64    // graph key -> chunk id
	nextKey uint64
}

// NewHNSWStore creates an empty store.
func NewHNSWStore(cfg HNSWConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions: %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if _, err := ParseMetric(string(cfg.Metric)); err != nil {
		return nil, err
	}
	if cfg.M <= 0 {
		cfg.M = DefaultM
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = DefaultEfSearch
	}

	return &HNSWStore{
		graph:   newGraph(cfg),
		cfg:     cfg,
		vectors: make(map[uint64][]float32),
		idMap:   make(map[uint64]uint64),
		keyMap:  make(map[uint64]uint64),
	}, nil
}

// newGraph builds an empty cosine graph.
func newGraph(cfg HNSWConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = DefaultMl
	return g
}

// Insert adds or replaces the vector for id.
func (s *HNSWStore) Insert(id uint64, vec []float32) error {
	if len(vec) != s.cfg.Dimensions {
		return ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(vec)}
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	if s.cfg.Metric == MetricCosine {
		normalizeInPlace(stored)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.unlinkLocked(id)
	s.vectors[id] = stored
	s.linkLocked(id, stored)
	return nil
}

// linkLocked adds stored to the graph under a fresh key. Zero vectors have
// no direction and are kept out of the graph, as are inner-product vectors:
// graph neighborhoods by angle do not rank raw dot products.
func (s *HNSWStore) linkLocked(id uint64, stored []float32) {
	if s.cfg.Metric != MetricCosine || isZero(stored) {
		return
	}
	key := s.nextKey
	s.nextKey++
	s.graph.Add(hnsw.MakeNode(key, stored))
	s.idMap[id] = key
	s.keyMap[key] = id
}

func (s *HNSWStore) unlinkLocked(id uint64) {
	if key, ok := s.idMap[id]; ok {
		delete(s.keyMap, key)
		delete(s.idMap, id)
	}
}

// Remove deletes id and reports whether it was present.
func (s *HNSWStore) Remove(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vectors[id]; !ok {
		return false
	}
	delete(s.vectors, id)
	s.unlinkLocked(id)
	return true
}

// Search returns up to k hits ordered by score descending, ties by id.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != s.cfg.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(query)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.vectors) == 0 {
		return []VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.cfg.Metric == MetricCosine {
		normalizeInPlace(q)
	}

	if s.cfg.Metric != MetricCosine || len(s.vectors) < s.cfg.ExactBelow || s.graph.Len() == 0 || isZero(q) {
		return BruteForce(s.vectors, q, k), nil
	}

	orphans := s.graph.Len() - len(s.idMap)
	nodes := s.graph.Search(q, max(k, s.cfg.EfSearch)*graphOversample+orphans)

	results := make([]VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		results = append(results, VectorResult{ID: id, Score: dot(q, s.vectors[id])})
	}
	rank(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Len returns the number of live vectors.
func (s *HNSWStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// IDs returns live ids in ascending order.
func (s *HNSWStore) IDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedIDsLocked()
}

func (s *HNSWStore) sortedIDsLocked() []uint64 {
	ids := make([]uint64, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Vector returns a copy of the stored vector for id.
func (s *HNSWStore) Vector(id uint64) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Dimensions returns the vector dimension.
func (s *HNSWStore) Dimensions() int { return s.cfg.Dimensions }

// Metric returns the similarity metric.
func (s *HNSWStore) Metric() Metric { return s.cfg.Metric }

// HNSWStats reports graph occupancy.
type HNSWStats struct {
	Vectors    int
	GraphNodes int
	Orphans    int
}

// Stats returns graph occupancy.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return HNSWStats{
		Vectors:    len(s.vectors),
		GraphNodes: s.graph.Len(),
		Orphans:    s.graph.Len() - len(s.idMap),
	}
}

// Compact rebuilds the graph from live vectors in ascending id order.
func (s *HNSWStore) Compact() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildLocked()
}

func (s *HNSWStore) rebuildLocked() {
	s.graph = newGraph(s.cfg)
	s.idMap = make(map[uint64]uint64, len(s.vectors))
	s.keyMap = make(map[uint64]uint64, len(s.vectors))
	s.nextKey = 0
	for _, id := range s.sortedIDsLocked() {
		s.linkLocked(id, s.vectors[id])
	}
}

var _ VectorStore = (*HNSWStore)(nil)
