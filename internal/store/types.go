// Package store holds the persisted halves of an index generation: chunk
// metadata (meta.jsonl) and vectors with their ANN graph (vectors.hnsw).
package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
)

// Metric is the similarity metric of a vector store.
type Metric string

const (
	// MetricCosine scores by the dot product of L2-normalized vectors.
	MetricCosine Metric = "cosine"
	// MetricIP scores by the raw dot product.
	MetricIP Metric = "ip"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricIP:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// VectorResult is a single search hit.
type VectorResult struct {
	ID    uint64
	Score float32
}

// VectorStore is a k-nearest-neighbor index keyed by chunk id.
type VectorStore interface {
	// Insert adds or replaces the vector for id.
	Insert(id uint64, vec []float32) error

	// Remove deletes id and reports whether it was present.
	Remove(id uint64) bool

	// Search returns up to k hits ordered by score descending, ties by
	// ascending id.
	Search(ctx context.Context, query []float32, k int) ([]VectorResult, error)

	// Len returns the number of live vectors.
	Len() int

	// IDs returns live ids in ascending order.
	IDs() []uint64

	// Vector returns the stored vector for id.
	Vector(id uint64) ([]float32, bool)

	Dimensions() int
	Metric() Metric
}

// ErrDimensionMismatch indicates a vector of the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'repoindex build --force')", e.Expected, e.Got)
}

// ChunkRecord is one line of meta.jsonl.
type ChunkRecord struct {
	ID         uint64 `json:"id"`
	Path       string `json:"path"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Lang       string `json:"lang"`
	SHA256     string `json:"sha256"`
	Preview    string `json:"preview"`
	FileSHA256 string `json:"file_sha256"`
}

// Lines returns the inclusive line count of the record.
func (r ChunkRecord) Lines() int { return r.End - r.Start + 1 }

const idMask = 1<<63 - 1

// ChunkID derives the id of a chunk from its path, span and content hash.
func ChunkID(path string, start, end int, contentSHA string) uint64 {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(start)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(end)))
	h.Write([]byte{0})
	h.Write([]byte(contentSHA))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8]) & idMask
}

// SortRecords orders records by path, start, end, then id.
func SortRecords(recs []ChunkRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.ID < b.ID
	})
}

// AssignIDs sets derived ids on recs, which must be sorted by SortRecords
// order of path, start and end. reserved holds ids already in use by
// records that are kept; a collision moves on to id+1.
func AssignIDs(recs []ChunkRecord, reserved map[uint64]bool) {
	used := make(map[uint64]bool, len(recs)+len(reserved))
	for id := range reserved {
		used[id] = true
	}
	for i := range recs {
		id := ChunkID(recs[i].Path, recs[i].Start, recs[i].End, recs[i].SHA256)
		for used[id] {
			id = (id + 1) & idMask
		}
		used[id] = true
		recs[i].ID = id
	}
}
