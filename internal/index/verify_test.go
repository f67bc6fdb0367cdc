package index

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/store"
)

// builtIndex returns the layout of a freshly built seed project.
func builtIndex(t *testing.T) Layout {
	t.Helper()
	c := newTestCoordinator(t, seedProject(t))
	_, err := c.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	return c.Layout()
}

// rewriteMeta replaces meta.jsonl and fixes the manifest checksum so only
// the structural checks can fail.
func rewriteMeta(t *testing.T, l Layout, recs []store.ChunkRecord) {
	t.Helper()
	require.NoError(t, store.WriteMeta(l.Meta(), recs))
	m, err := ReadManifest(l.Manifest())
	require.NoError(t, err)
	sum, err := fileChecksum(l.Meta())
	require.NoError(t, err)
	m.Checksums.Meta = sum
	require.NoError(t, WriteManifest(l.Manifest(), m))
}

// =============================================================================
// Manifest
// =============================================================================

func TestManifest_WriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFile)
	m := &Manifest{
		IndexVersion: IndexVersion,
		Engine:       EngineName,
		Model:        "hash-256",
		Dim:          256,
		Metric:       "cosine",
		ChunkMode:    "auto",
		Chunk:        ChunkParams{Lines: 160, Overlap: 32},
		Repo:         RepoInfo{Root: "/src", Revision: "none"},
		Counts:       Counts{Files: 2, Chunks: 5},
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		LastRefresh:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, WriteManifest(path, m))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "2026-01-02T03:04:05Z", fields["created_at"])
	assert.Contains(t, fields, "last_refresh")
	_, err = os.Stat(tmpPath(path))
	assert.True(t, os.IsNotExist(err))
}

func TestReadManifest_Missing(t *testing.T) {
	_, err := ReadManifest(filepath.Join(t.TempDir(), ManifestFile))
	assert.True(t, errors.Is(err, ierrors.ErrNoIndex))
	assert.Equal(t, ierrors.ExitNoIndex, ierrors.ExitCode(err))
}

func TestManifest_Compatible(t *testing.T) {
	m := &Manifest{IndexVersion: IndexVersion, Model: "hash-256", Dim: 256, Metric: "cosine"}

	assert.NoError(t, m.Compatible("hash-256", 256, "cosine"))

	for _, tc := range []struct {
		model  string
		dim    int
		metric string
		field  string
	}{
		{"hash-384", 256, "cosine", "model"},
		{"hash-256", 384, "cosine", "dim"},
		{"hash-256", 256, "ip", "metric"},
	} {
		err := m.Compatible(tc.model, tc.dim, tc.metric)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ierrors.ErrConfigMismatch))
		var ie *ierrors.IndexError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, tc.field, ie.Details["field"])
	}
}

// =============================================================================
// Verify
// =============================================================================

func TestVerify_HealthyIndex(t *testing.T) {
	l := builtIndex(t)

	rep, err := Verify(l.Dir)

	require.NoError(t, err)
	assert.True(t, rep.OK)
	assert.Empty(t, rep.Problems)
	assert.Equal(t, 2, rep.Files)
}

func TestVerify_MissingManifest(t *testing.T) {
	rep, err := Verify(t.TempDir())

	assert.True(t, errors.Is(err, ierrors.ErrVerifyFailed))
	assert.Equal(t, ierrors.ExitVerifyFailed, ierrors.ExitCode(err))
	assert.Equal(t, []Kind{KindMissingManifest}, rep.Kinds())
}

func TestVerify_MissingArtifact(t *testing.T) {
	l := builtIndex(t)
	require.NoError(t, os.Remove(l.Meta()))

	rep, err := Verify(l.Dir)

	require.Error(t, err)
	assert.Equal(t, []Kind{KindMissingArtifact}, rep.Kinds())
}

func TestVerify_TamperedArtifacts(t *testing.T) {
	// Given: an extra meta line and a flipped byte in the vectors file
	l := builtIndex(t)
	f, err := os.OpenFile(l.Meta(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":1,"path":"ghost.go","start":1,"end":1}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(l.Vectors())
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(l.Vectors(), data, 0o644))

	// When: verifying
	rep, err := Verify(l.Dir)

	// Then: both checksums and the id correspondence are reported
	require.Error(t, err)
	assert.True(t, rep.Has(KindVectorsChecksum))
	assert.True(t, rep.Has(KindMetaChecksum))
	assert.True(t, rep.Has(KindCountMismatch))
	assert.True(t, rep.Has(KindOrphanMeta))
}

func TestVerify_OrphanVectorAndDuplicateID(t *testing.T) {
	l := builtIndex(t)
	recs := readMeta(t, l)
	require.GreaterOrEqual(t, len(recs), 2)

	// Given: the first record dropped and the second duplicated
	dup := append([]store.ChunkRecord{recs[1]}, recs[1:]...)
	rewriteMeta(t, l, dup)

	rep, err := Verify(l.Dir)

	require.Error(t, err)
	assert.True(t, rep.Has(KindOrphanVector))
	assert.True(t, rep.Has(KindDuplicateID))
	assert.False(t, rep.Has(KindMetaChecksum))
}

func TestVerify_DimensionMismatch(t *testing.T) {
	l := builtIndex(t)
	m, err := ReadManifest(l.Manifest())
	require.NoError(t, err)
	m.Dim = 384
	require.NoError(t, WriteManifest(l.Manifest(), m))

	rep, err := Verify(l.Dir)

	require.Error(t, err)
	assert.Equal(t, []Kind{KindDimensionMismatch}, rep.Kinds())
}

func TestVerify_UnreadableVectors(t *testing.T) {
	l := builtIndex(t)
	require.NoError(t, os.WriteFile(l.Vectors(), []byte("garbage"), 0o644))

	rep, err := Verify(l.Dir)

	require.Error(t, err)
	assert.True(t, rep.Has(KindUnreadableArtifact))
	assert.True(t, rep.Has(KindVectorsChecksum))
}

// =============================================================================
// Generation loading
// =============================================================================

func TestLoadGeneration(t *testing.T) {
	l := builtIndex(t)

	gen, err := LoadGeneration(context.Background(), l)

	require.NoError(t, err)
	assert.Equal(t, gen.Manifest.Counts.Chunks, gen.Meta.Len())
	assert.Equal(t, gen.Meta.Len(), gen.Vectors.Len())
	for _, rec := range gen.Meta.Records() {
		_, ok := gen.Vectors.Vector(rec.ID)
		assert.True(t, ok, "vector for %d", rec.ID)
	}
}

func TestLoadGeneration_NoIndex(t *testing.T) {
	_, err := LoadGeneration(context.Background(), NewLayout(t.TempDir()))
	assert.True(t, errors.Is(err, ierrors.ErrNoIndex))
}

func TestLoadGeneration_ChecksumMismatchIsCorrupt(t *testing.T) {
	l := builtIndex(t)
	m, err := ReadManifest(l.Manifest())
	require.NoError(t, err)
	m.Checksums.Meta = "0000"
	require.NoError(t, WriteManifest(l.Manifest(), m))

	_, err = LoadGeneration(context.Background(), l)

	assert.True(t, errors.Is(err, ierrors.ErrCorruptIndex))
}

func TestLayout_CleanKeepsIgnoreFile(t *testing.T) {
	l := builtIndex(t)
	_, err := os.Stat(l.IgnoreFile())
	require.NoError(t, err)

	require.NoError(t, l.Clean())

	assert.False(t, l.Exists())
	_, err = os.Stat(l.IgnoreFile())
	assert.NoError(t, err)
}
