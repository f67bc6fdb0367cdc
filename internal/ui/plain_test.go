package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/index"
)

func TestPlainRenderer_LogsStagesAndQuarterSteps(t *testing.T) {
	// Given
	var buf bytes.Buffer
	r := NewPlainRenderer(NewConfig(&buf))
	require.NoError(t, r.Start(context.Background()))

	// When: a build reports states and counted chunking
	r.Update(index.Progress{State: index.StateLocking})
	r.Update(index.Progress{State: index.StateScanning, Message: "resolving changes"})
	r.Update(index.Progress{State: index.StateChunking})
	for i := 1; i <= 8; i++ {
		r.Update(index.Progress{State: index.StateChunking, Current: i, Total: 8})
	}
	r.Update(index.Progress{State: index.StateIdle})
	require.NoError(t, r.Stop())

	// Then
	assert.Equal(t, "[LOCK]\n"+
		"[SCAN] resolving changes\n"+
		"[CHUNK]\n"+
		"[CHUNK] 1/8\n"+
		"[CHUNK] 2/8\n"+
		"[CHUNK] 4/8\n"+
		"[CHUNK] 6/8\n"+
		"[CHUNK] 8/8\n", buf.String())
}

func TestPlainRenderer_Fail(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(NewConfig(&buf))
	r.Fail(errors.New("disk full"))
	assert.Equal(t, "ERROR: disk full\n", buf.String())
}

func TestFormatSummary(t *testing.T) {
	manifest := &index.Manifest{Model: "hash-256", Dim: 256, Metric: "cosine"}

	t.Run("full", func(t *testing.T) {
		got := FormatSummary(&index.BuildResult{
			Mode: index.ModeFull, Promoted: "no existing index",
			Files: 3, Chunks: 9, Embedded: 9,
			Duration: 1234 * time.Millisecond, Manifest: manifest,
		})
		assert.Equal(t, "Complete: full build, 3 files, 9 chunks in 1.2s\n"+
			"  embedded 9 chunks\n"+
			"  ran as full build: no existing index\n"+
			"Model: hash-256 (256 dims, cosine)\n", got)
	})

	t.Run("incremental with deferred files", func(t *testing.T) {
		got := FormatSummary(&index.BuildResult{
			Mode: index.ModeIncremental, Files: 4, Chunks: 10,
			Added: 1, Modified: 2, Deleted: 1, Embedded: 5,
			Deferred: []string{"a.go", "b.go"}, Duration: 40 * time.Millisecond,
		})
		assert.Equal(t, "Complete: incremental build, 4 files, 10 chunks in 40ms\n"+
			"  added 1, modified 2, deleted 1, embedded 5\n"+
			"  2 files deferred to the next refresh\n", got)
	})

	t.Run("unchanged", func(t *testing.T) {
		got := FormatSummary(&index.BuildResult{Mode: index.ModeUnchanged, Files: 4, Chunks: 10, Duration: 5 * time.Millisecond})
		assert.Equal(t, "Index up to date: 4 files, 10 chunks (5ms)\n", got)
	})

	t.Run("nil", func(t *testing.T) {
		assert.Empty(t, FormatSummary(nil))
	})
}
