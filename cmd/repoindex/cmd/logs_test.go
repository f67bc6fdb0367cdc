package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogsCmd_TailWithLevel(t *testing.T) {
	// Given: a log file with mixed levels
	path := filepath.Join(t.TempDir(), "repoindex.log")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"refresh_pass_complete"}`+"\n"+
			`{"time":"2026-01-02T10:00:01Z","level":"ERROR","msg":"refresh_failed","error":"boom"}`+"\n"), 0o644))

	// When
	out, stderr, err := run(t, "logs", "--file", path, "--level", "error")

	// Then
	require.NoError(t, err)
	assert.Contains(t, stderr, "Log file: "+path)
	assert.Contains(t, out, "refresh_failed error=boom")
	assert.NotContains(t, out, "refresh_pass_complete")
}

func TestLogsCmd_Errors(t *testing.T) {
	_, _, err := run(t, "logs", "--file", filepath.Join(t.TempDir(), "missing.log"))
	assert.Error(t, err)

	_, _, err = run(t, "logs", "--file", "x", "--filter", "(")
	assert.Error(t, err)
}
