package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNameStatus(t *testing.T) {
	out := "M\tsrc/a.go\nA\tsrc/new.go\nD\told.go\nR087\tfrom.go\tto.go\nC100\tsrc.go\tcopy.go\n\n"

	got := ParseNameStatus(out)

	assert.Equal(t, []Change{
		{Modified, "src/a.go"},
		{Added, "src/new.go"},
		{Deleted, "old.go"},
		{Deleted, "from.go"},
		{Added, "to.go"},
		{Added, "copy.go"},
	}, got)
}

func TestParsePorcelain(t *testing.T) {
	out := " M src/a.go\n?? notes/todo.md\nD  gone.go\nA  staged.go\nR  old name.go -> new.go\n?? \"quoted path.go\"\n!! ignored.bin\n"

	got := ParsePorcelain(out)

	assert.Equal(t, []Change{
		{Modified, "src/a.go"},
		{Added, "notes/todo.md"},
		{Deleted, "gone.go"},
		{Added, "staged.go"},
		{Deleted, "old name.go"},
		{Added, "new.go"},
		{Added, "quoted path.go"},
	}, got)
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "x", "y")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func gitInit(t *testing.T, dir string) {
	t.Helper()
	if !Available() {
		t.Skip("git not available")
	}
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
		{"config", "commit.gpgsign", "false"},
	} {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
}

func gitCommitAll(t *testing.T, dir string) {
	t.Helper()
	for _, args := range [][]string{{"add", "-A"}, {"commit", "-q", "-m", "c"}} {
		out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
		require.NoError(t, err, string(out))
	}
}

func TestRepo_DiffAndStatus(t *testing.T) {
	// Given: a repo with a committed file in a project subdirectory
	top := t.TempDir()
	gitInit(t, top)
	project := filepath.Join(top, "proj")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "a.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(top, "outside.go"), []byte("package o\n"), 0o644))
	gitCommitAll(t, top)

	ctx := context.Background()
	repo, err := Open(ctx, project)
	require.NoError(t, err)
	rev, err := repo.HeadRevision(ctx)
	require.NoError(t, err)

	// When: modifying a tracked file and adding an untracked one
	require.NoError(t, os.WriteFile(filepath.Join(project, "a.go"), []byte("package a\n\nvar X = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project, "b.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(top, "outside.go"), []byte("package changed\n"), 0o644))

	diff, err := repo.DiffNameStatus(ctx, rev)
	require.NoError(t, err)
	status, err := repo.StatusPorcelain(ctx)
	require.NoError(t, err)
	changed, err := repo.HasChanges(ctx, rev)
	require.NoError(t, err)

	// Then: paths are relative to the project and exclude the outside file
	assert.Equal(t, []Change{{Modified, "a.go"}}, diff)
	assert.ElementsMatch(t, []Change{{Modified, "a.go"}, {Added, "b.go"}}, status)
	assert.True(t, changed)
}

func TestOpen_NotARepo(t *testing.T) {
	if !Available() {
		t.Skip("git not available")
	}
	_, err := Open(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNotRepo)
}
