package store

import (
	"math"
	"sort"
)

// BruteForceThreshold is the live-vector count below which HNSWStore scans
// linearly instead of using the graph. A scan of this many 256-dim vectors
// takes a few milliseconds, while graph recall on hash-encoder vectors is
// far from exact at these sizes (see DESIGN.md for measurements).
const BruteForceThreshold = 50_000

// BruteForce ranks every vector in vectors against query. Vectors must
// already be in the store's scoring space (normalized for cosine).
func BruteForce(vectors map[uint64][]float32, query []float32, k int) []VectorResult {
	if k <= 0 || len(vectors) == 0 {
		return []VectorResult{}
	}
	results := make([]VectorResult, 0, len(vectors))
	for id, v := range vectors {
		results = append(results, VectorResult{ID: id, Score: dot(query, v)})
	}
	rank(results)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// rank sorts by score descending, then id ascending.
func rank(results []VectorResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}

// normalizeInPlace scales v to unit length; zero vectors are left as is.
// It reports whether v was non-zero.
func normalizeInPlace(v []float32) bool {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return false
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return true
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
