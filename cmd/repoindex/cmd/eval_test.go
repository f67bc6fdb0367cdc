package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
)

func TestEvalCmd(t *testing.T) {
	// Given: a built index and a query set
	root := writeProject(t, map[string]string{
		"docs/retry.txt": "Retries use exponential backoff starting at 100 milliseconds.",
	})
	_, _, err := run(t, "--root", root, "build", "--no-tui")
	require.NoError(t, err)

	queries := filepath.Join(t.TempDir(), "q.yaml")
	require.NoError(t, os.WriteFile(queries, []byte(`positive:
  - id: retry
    query: Retries use exponential backoff starting at 100 milliseconds.
    expected: [docs/]
negative:
  - id: off
    query: zebra quantum pineapple
`), 0o644))

	// When
	out, _, err := run(t, "--root", root, "eval", queries)

	// Then
	require.NoError(t, err)
	assert.Contains(t, out, "Positive: 1/1  Negative: 1/1")

	// When: a positive query expects the wrong path
	require.NoError(t, os.WriteFile(queries, []byte(`positive:
  - query: Retries use exponential backoff starting at 100 milliseconds.
    expected: [cmd/]
`), 0o644))
	_, _, err = run(t, "--root", root, "eval", queries)

	// Then
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 queries failed")
}

func TestEvalCmd_NoIndex(t *testing.T) {
	queries := filepath.Join(t.TempDir(), "q.yaml")
	require.NoError(t, os.WriteFile(queries, []byte("negative:\n  - query: x\n"), 0o644))

	_, _, err := run(t, "--root", t.TempDir(), "eval", queries)

	assert.Equal(t, ierrors.ExitNoIndex, ierrors.ExitCode(err))
}
