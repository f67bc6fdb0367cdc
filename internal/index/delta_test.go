package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/pathfilter"
	"github.com/Aman-CERP/repoindex/internal/vcs"
)

func newResolver(t *testing.T, root string) *DeltaResolver {
	t.Helper()
	f, err := pathfilter.New(root, pathfilter.Options{Patterns: pathfilter.DefaultPatterns})
	require.NoError(t, err)
	return NewDeltaResolver(f)
}

func sha(t *testing.T, root, rel string) string {
	t.Helper()
	sum, _, err := hashFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return sum
}

func TestDeltaResolver_HashMode(t *testing.T) {
	// Given: an index of three files, then one modified, one deleted and
	// one added
	root := t.TempDir()
	writeFile(t, root, "keep.go", "package keep\n")
	writeFile(t, root, "change.go", "package change\n")
	indexed := map[string]string{
		"keep.go":   sha(t, root, "keep.go"),
		"change.go": sha(t, root, "change.go"),
		"gone.go":   "deadbeef",
	}
	writeFile(t, root, "change.go", "package change\n\nvar X = 1\n")
	writeFile(t, root, "new.go", "package fresh\n")
	writeFile(t, root, "blank.go", "\n  \n")

	// When: resolving without a recorded revision
	d, err := newResolver(t, root).Resolve(context.Background(), vcs.NoRevision, indexed)

	// Then: the delta is disjoint and blank files are not added
	require.NoError(t, err)
	assert.Equal(t, DeltaHash, d.Source)
	assert.Equal(t, []string{"new.go"}, d.Added)
	assert.Equal(t, []string{"change.go"}, d.Modified)
	assert.Equal(t, []string{"gone.go"}, d.Deleted)
	assert.Equal(t, 3, d.Len())
}

func TestDeltaResolver_NothingChanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")

	d, err := newResolver(t, root).Resolve(context.Background(), "", map[string]string{"a.go": sha(t, root, "a.go")})

	require.NoError(t, err)
	assert.True(t, d.Empty())
}

func TestDeltaResolver_NewlyIgnoredFileIsDeleted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "vendor/lib.go", "package lib\n")

	d, err := newResolver(t, root).Resolve(context.Background(), vcs.NoRevision,
		map[string]string{"vendor/lib.go": sha(t, root, "vendor/lib.go")})

	require.NoError(t, err)
	assert.Equal(t, []string{"vendor/lib.go"}, d.Deleted)
}

func gitRepo(t *testing.T) string {
	t.Helper()
	if !vcs.Available() {
		t.Skip("git not available")
	}
	root := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
		{"config", "commit.gpgsign", "false"},
	} {
		runGit(t, root, args...)
	}
	return root
}

func runGit(t *testing.T, root string, args ...string) string {
	t.Helper()
	out, err := execGit(root, args...)
	require.NoError(t, err, out)
	return out
}

func TestDeltaResolver_GitMode(t *testing.T) {
	// Given: a committed repo and an index at HEAD
	root := gitRepo(t)
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.go", "package b\n")
	writeFile(t, root, "old.go", "package old\n")
	runGit(t, root, "add", "-A")
	runGit(t, root, "commit", "-q", "-m", "init")
	head := runGit(t, root, "rev-parse", "HEAD")

	indexed := map[string]string{
		"a.go":   sha(t, root, "a.go"),
		"b.go":   sha(t, root, "b.go"),
		"old.go": sha(t, root, "old.go"),
	}

	// When: modifying, renaming and adding an untracked file
	writeFile(t, root, "a.go", "package a\n\nvar Y = 2\n")
	runGit(t, root, "mv", "old.go", "renamed.go")
	writeFile(t, root, "untracked.go", "package u\n")

	d, err := newResolver(t, root).Resolve(context.Background(), head, indexed)

	// Then: renames split into delete plus add, untracked counts as added
	require.NoError(t, err)
	assert.Equal(t, DeltaGit, d.Source)
	assert.Equal(t, head, d.Revision)
	assert.Equal(t, []string{"renamed.go", "untracked.go"}, d.Added)
	assert.Equal(t, []string{"a.go"}, d.Modified)
	assert.Equal(t, []string{"old.go"}, d.Deleted)
}

func TestDeltaResolver_GitUnknownRevisionFallsBack(t *testing.T) {
	root := gitRepo(t)
	writeFile(t, root, "a.go", "package a\n")
	runGit(t, root, "add", "-A")
	runGit(t, root, "commit", "-q", "-m", "init")

	d, err := newResolver(t, root).Resolve(context.Background(), "0123456789abcdef0123456789abcdef01234567", nil)

	require.NoError(t, err)
	assert.Equal(t, DeltaHash, d.Source)
	assert.Equal(t, []string{"a.go"}, d.Added)
}

func TestDeltaResolver_GitignoreChangeFallsBack(t *testing.T) {
	root := gitRepo(t)
	writeFile(t, root, ".gitignore", "gen/\n")
	writeFile(t, root, "gen/out.go", "package gen\n")
	runGit(t, root, "add", "-A")
	runGit(t, root, "commit", "-q", "-m", "init")
	head := runGit(t, root, "rev-parse", "HEAD")

	// When: the ignore rule is dropped, making an unchanged file eligible
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("\n"), 0o644))
	d, err := newResolver(t, root).Resolve(context.Background(), head, map[string]string{})

	require.NoError(t, err)
	assert.Equal(t, DeltaHash, d.Source)
	assert.Equal(t, []string{"gen/out.go"}, d.Added)
}
