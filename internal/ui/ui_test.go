package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/repoindex/internal/index"
)

func TestNewRenderer_NonTTYIsPlain(t *testing.T) {
	// Given: a buffer, which is never a terminal
	var buf bytes.Buffer

	// When
	r := NewRenderer(NewConfig(&buf))

	// Then
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestNewTUIRenderer_RejectsNonTTY(t *testing.T) {
	_, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestStageIcon(t *testing.T) {
	tests := map[index.State]string{
		index.StateLocking:   "LOCK",
		index.StateScanning:  "SCAN",
		index.StateChunking:  "CHUNK",
		index.StateEmbedding: "EMBED",
		index.StateWriting:   "WRITE",
		index.StateVerifying: "VERIFY",
		index.StateFailed:    "FAIL",
		index.StateIdle:      "DONE",
	}
	for state, want := range tests {
		assert.Equal(t, want, StageIcon(state), state.String())
	}
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
	assert.True(t, NewConfig(&bytes.Buffer{}).NoColor)
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "12s", formatDuration(12*time.Second))
	assert.Equal(t, "1m 05s", formatDuration(65*time.Second))
	assert.Equal(t, "0s", formatDuration(200*time.Millisecond))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2<<20))
	assert.Equal(t, "1.0 GB", FormatBytes(1<<30))
}
