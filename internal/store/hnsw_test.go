package store

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/embed"
)

func newStore(t *testing.T, dim int, metric Metric, exactBelow int) *HNSWStore {
	t.Helper()
	cfg := DefaultHNSWConfig(dim, metric)
	cfg.ExactBelow = exactBelow
	s, err := NewHNSWStore(cfg)
	require.NoError(t, err)
	return s
}

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func resultIDs(rs []VectorResult) []uint64 {
	out := make([]uint64, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

// =============================================================================
// Insert / Search
// =============================================================================

func TestHNSWStore_InsertAndSearch(t *testing.T) {
	for _, exact := range []int{BruteForceThreshold, 0} {
		// Given: three vectors, searched both linearly and through the graph
		s := newStore(t, 4, MetricCosine, exact)
		require.NoError(t, s.Insert(1, []float32{1, 0, 0, 0}))
		require.NoError(t, s.Insert(2, []float32{0, 1, 0, 0}))
		require.NoError(t, s.Insert(3, []float32{0.9, 0.1, 0, 0}))

		// When
		results, err := s.Search(context.Background(), []float32{2, 0, 0, 0}, 2)

		// Then: exact match first, similar second, cosine scores
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, []uint64{1, 3}, resultIDs(results))
		assert.InDelta(t, 1.0, results[0].Score, 1e-5)
		assert.Greater(t, results[0].Score, results[1].Score)
	}
}

func TestHNSWStore_EmptyStore(t *testing.T) {
	s := newStore(t, 3, MetricCosine, BruteForceThreshold)
	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestHNSWStore_KLargerThanCountReturnsAll(t *testing.T) {
	s := newStore(t, 2, MetricCosine, BruteForceThreshold)
	require.NoError(t, s.Insert(10, []float32{1, 0}))
	require.NoError(t, s.Insert(20, []float32{0, 1}))

	results, err := s.Search(context.Background(), []float32{1, 1}, 50)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestHNSWStore_TiesBreakByAscendingID(t *testing.T) {
	s := newStore(t, 2, MetricCosine, BruteForceThreshold)
	require.NoError(t, s.Insert(9, []float32{1, 0}))
	require.NoError(t, s.Insert(4, []float32{1, 0}))
	require.NoError(t, s.Insert(7, []float32{1, 0}))

	results, err := s.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 7, 9}, resultIDs(results))
}

func TestHNSWStore_InnerProductUsesRawDot(t *testing.T) {
	s := newStore(t, 2, MetricIP, BruteForceThreshold)
	require.NoError(t, s.Insert(1, []float32{3, 0}))
	require.NoError(t, s.Insert(2, []float32{1, 0}))

	results, err := s.Search(context.Background(), []float32{2, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint64(1), results[0].ID)
	assert.InDelta(t, 6.0, results[0].Score, 1e-5)
	assert.InDelta(t, 2.0, results[1].Score, 1e-5)
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	s := newStore(t, 3, MetricCosine, BruteForceThreshold)
	err := s.Insert(1, []float32{1, 2})
	var dm ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)

	_, err = s.Search(context.Background(), []float32{1}, 1)
	assert.Error(t, err)
}

func TestHNSWStore_RemoveAndReplace(t *testing.T) {
	s := newStore(t, 2, MetricCosine, 0)
	require.NoError(t, s.Insert(1, []float32{1, 0}))
	require.NoError(t, s.Insert(2, []float32{0, 1}))

	// When: removing 1 and replacing 2
	assert.True(t, s.Remove(1))
	assert.False(t, s.Remove(1))
	require.NoError(t, s.Insert(2, []float32{1, 0.1}))

	// Then: only 2 is found and the graph carries orphans
	results, err := s.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, resultIDs(results))
	assert.Equal(t, []uint64{2}, s.IDs())
	assert.Equal(t, 2, s.Stats().Orphans)

	s.Compact()
	assert.Equal(t, 0, s.Stats().Orphans)
}

func TestHNSWStore_ZeroVectorKeptOutOfGraph(t *testing.T) {
	s := newStore(t, 2, MetricCosine, 0)
	require.NoError(t, s.Insert(1, []float32{0, 0}))
	require.NoError(t, s.Insert(2, []float32{1, 0}))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.Stats().GraphNodes)

	results, err := s.Search(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), results[0].ID)
}

// =============================================================================
// Recall: ANN vs brute force
// =============================================================================

func TestHNSWStore_RecallAgainstBruteForce(t *testing.T) {
	// Given: 50 random 64-dim vectors forced through the graph
	rng := rand.New(rand.NewSource(42))
	const n, dim, queries = 50, 64, 200
	s := newStore(t, dim, MetricCosine, 0)
	for i, v := range randomVectors(rng, n, dim) {
		require.NoError(t, s.Insert(uint64(i+1), v))
	}

	raw := make(map[uint64][]float32, n)
	for _, id := range s.IDs() {
		v, _ := s.Vector(id)
		raw[id] = v
	}

	// When: comparing top-1 for many queries
	agree := 0
	for _, q := range randomVectors(rng, queries, dim) {
		ann, err := s.Search(context.Background(), q, 1)
		require.NoError(t, err)
		nq := append([]float32(nil), q...)
		normalizeInPlace(nq)
		exact := BruteForce(raw, nq, 1)
		if len(ann) == 1 && ann[0].ID == exact[0].ID {
			agree++
		}
	}

	// Then: at least 95% agreement
	assert.GreaterOrEqual(t, float64(agree)/queries, 0.95)
}

// encodedCorpus embeds n documents of 60 words drawn from a fixed
// vocabulary, and returns queries of 12 consecutive words from random
// documents along with the document each query was taken from.
func encodedCorpus(t *testing.T, rng *rand.Rand, n, queries int) (docs, qs [][]float32, sources []uint64) {
	t.Helper()
	emb := embed.NewHashEmbedder("hash-256", 256)
	ctx := context.Background()

	vocab := make([]string, 2000)
	for i := range vocab {
		b := make([]byte, 4+rng.Intn(6))
		for j := range b {
			b[j] = byte('a' + rng.Intn(26))
		}
		vocab[i] = string(b)
	}

	words := make([][]string, n)
	texts := make([]string, n)
	for i := range words {
		w := make([]string, 60)
		for j := range w {
			w[j] = vocab[rng.Intn(len(vocab))]
		}
		words[i] = w
		texts[i] = strings.Join(w, " ")
	}
	docs, err := emb.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	for i := 0; i < queries; i++ {
		src := rng.Intn(n)
		start := rng.Intn(48)
		q, err := emb.Embed(ctx, strings.Join(words[src][start:start+12], " "))
		require.NoError(t, err)
		qs = append(qs, q)
		sources = append(sources, uint64(src+1))
	}
	return docs, qs, sources
}

func TestHNSWStore_DefaultConfigIsExactOnEncodedDocuments(t *testing.T) {
	// Given: 1000 encoded documents under the default configuration
	rng := rand.New(rand.NewSource(11))
	docs, queries, sources := encodedCorpus(t, rng, 1000, 200)
	s := newStore(t, 256, MetricCosine, BruteForceThreshold)
	for i, v := range docs {
		require.NoError(t, s.Insert(uint64(i+1), v))
	}

	// When / Then: every query ranks its source document first
	for i, q := range queries {
		results, err := s.Search(context.Background(), q, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, sources[i], results[0].ID, "query %d", i)
	}
}

func TestHNSWStore_GraphRecallOnEncodedDocuments(t *testing.T) {
	// Given: 1000 encoded documents searched through the graph
	rng := rand.New(rand.NewSource(12))
	docs, queries, _ := encodedCorpus(t, rng, 1000, 200)
	s := newStore(t, 256, MetricCosine, 0)
	raw := make(map[uint64][]float32, len(docs))
	for i, v := range docs {
		require.NoError(t, s.Insert(uint64(i+1), v))
		raw[uint64(i+1)] = v
	}

	// When: comparing the graph's top-1 with an exact scan
	agree := 0
	for _, q := range queries {
		ann, err := s.Search(context.Background(), q, 1)
		require.NoError(t, err)
		exact := BruteForce(raw, q, 1)
		if len(ann) == 1 && ann[0].ID == exact[0].ID {
			agree++
		}
	}

	// Then: the widened candidate pool keeps recall above the documented floor
	recall := float64(agree) / float64(len(queries))
	t.Logf("graph top-1 recall at n=1000: %.2f", recall)
	assert.GreaterOrEqual(t, recall, 0.5)
}

func TestHNSWStore_InnerProductIsAlwaysExact(t *testing.T) {
	// Given: an inner-product store configured to prefer the graph
	s := newStore(t, 2, MetricIP, 0)
	require.NoError(t, s.Insert(1, []float32{3, 0}))
	require.NoError(t, s.Insert(2, []float32{1, 0}))
	require.NoError(t, s.Insert(3, []float32{0, 5}))

	// When
	results, err := s.Search(context.Background(), []float32{1, 1}, 3)

	// Then: raw dot products rank the long vector first and nothing is graphed
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 1, 2}, resultIDs(results))
	assert.Equal(t, 0, s.Stats().GraphNodes)
}

// =============================================================================
// Persistence
// =============================================================================

func TestHNSWStore_SaveLoadRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := newStore(t, 16, MetricCosine, 0)
	for i, v := range randomVectors(rng, 40, 16) {
		require.NoError(t, s.Insert(uint64(100+i), v))
	}
	s.Remove(105)

	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	require.NoError(t, s.Save(path))

	loaded, err := LoadHNSW(path, DefaultHNSWConfig(0, ""))
	require.NoError(t, err)

	assert.Equal(t, 16, loaded.Dimensions())
	assert.Equal(t, MetricCosine, loaded.Metric())
	assert.Equal(t, s.IDs(), loaded.IDs())

	q := randomVectors(rng, 1, 16)[0]
	want, err := s.Search(context.Background(), q, 5)
	require.NoError(t, err)
	got, err := loaded.Search(context.Background(), q, 5)
	require.NoError(t, err)
	assert.Equal(t, resultIDs(want), resultIDs(got))
}

func TestHNSWStore_SaveIsDeterministicForSameContent(t *testing.T) {
	build := func() []byte {
		s := newStore(t, 4, MetricIP, BruteForceThreshold)
		require.NoError(t, s.Insert(3, []float32{1, 2, 3, 4}))
		require.NoError(t, s.Insert(1, []float32{0, 0, 0, 0}))
		path := filepath.Join(t.TempDir(), "v")
		require.NoError(t, s.Save(path))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return data[:headerSize+2*16+2*4*4]
	}
	assert.Equal(t, build(), build())
}

func TestLoadHNSW_RebuildsBrokenGraph(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s := newStore(t, 8, MetricCosine, 0)
	for i, v := range randomVectors(rng, 20, 8) {
		require.NoError(t, s.Insert(uint64(i+1), v))
	}
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	require.NoError(t, s.Save(path))

	// Given: the graph section is cut short
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	vectorsEnd := headerSize + 16*20 + 4*8*20
	require.NoError(t, os.WriteFile(path, data[:vectorsEnd+3], 0o644))

	// When: loading
	loaded, err := LoadHNSW(path, DefaultHNSWConfig(0, ""))

	// Then: the graph is rebuilt from raw vectors
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.Len())
	assert.Equal(t, 20, loaded.Stats().GraphNodes)
}

func TestMapVectors_RejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	tests := map[string][]byte{
		"empty":     {},
		"bad magic": []byte("NOPE0000000000000000000000000000"),
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, content, 0o644))
			_, err := MapVectors(path)
			assert.ErrorIs(t, err, ErrCorruptVectors)
		})
	}

	t.Run("truncated", func(t *testing.T) {
		s := newStore(t, 4, MetricCosine, BruteForceThreshold)
		require.NoError(t, s.Insert(1, []float32{1, 0, 0, 0}))
		path := filepath.Join(dir, "trunc")
		require.NoError(t, s.Save(path))
		data, _ := os.ReadFile(path)
		require.NoError(t, os.WriteFile(path, data[:headerSize+10], 0o644))

		_, err := MapVectors(path)
		assert.ErrorIs(t, err, ErrCorruptVectors)
	})
}

func TestMapVectors_ExposesRows(t *testing.T) {
	s := newStore(t, 2, MetricIP, BruteForceThreshold)
	require.NoError(t, s.Insert(5, []float32{1, 2}))
	require.NoError(t, s.Insert(2, []float32{3, 4}))
	path := filepath.Join(t.TempDir(), "v")
	require.NoError(t, s.Save(path))

	view, err := MapVectors(path)
	require.NoError(t, err)
	defer func() { _ = view.Close() }()

	assert.Equal(t, []uint64{2, 5}, view.IDs())
	assert.Equal(t, []float32{3, 4}, view.Row(0))
	assert.Equal(t, []float32{1, 2}, view.Row(1))
	assert.Equal(t, MetricIP, view.Metric())
}
