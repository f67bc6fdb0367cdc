package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/preflight"
)

func TestDoctorCmd_Text(t *testing.T) {
	out, _, err := run(t, "--root", t.TempDir(), "doctor")

	// A tiny temp filesystem may fail the disk check; the report is printed either way.
	assert.Contains(t, out, "repoindex system check")
	assert.Contains(t, out, "[PASS] encoder: hash-256 (256 dims)")
	if err == nil {
		assert.Contains(t, out, "Status: READY")
	}
}

func TestDoctorCmd_JSON(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".repoindex.yaml"), []byte("index:\n  model: hash-768\n"), 0o644))

	out, _, _ := run(t, "--root", root, "doctor", "--json")

	var results []preflight.CheckResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 5)
	assert.Equal(t, preflight.CheckEncoder, results[4].Name)
	assert.Contains(t, results[4].Message, "768 dims")
}
