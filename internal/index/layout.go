package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/repoindex/internal/config"
)

// Artifact file names inside the index directory.
const (
	ManifestFile      = "manifest.json"
	VectorsFile       = "vectors.hnsw"
	MetaFile          = "meta.jsonl"
	AnalyticsFile     = "analytics.json"
	LockFile          = "lock"
	AnalyticsLockFile = "analytics.lock"

	tmpSuffix = ".tmp"
)

// Layout resolves the paths of a project's index artifacts.
type Layout struct {
	Root string
	Dir  string
}

// NewLayout returns the layout for a project root.
func NewLayout(root string) Layout {
	return Layout{Root: root, Dir: filepath.Join(root, config.IndexDirName)}
}

func (l Layout) Manifest() string      { return filepath.Join(l.Dir, ManifestFile) }
func (l Layout) Vectors() string       { return filepath.Join(l.Dir, VectorsFile) }
func (l Layout) Meta() string          { return filepath.Join(l.Dir, MetaFile) }
func (l Layout) Analytics() string     { return filepath.Join(l.Dir, AnalyticsFile) }
func (l Layout) Lock() string          { return filepath.Join(l.Dir, LockFile) }
func (l Layout) AnalyticsLock() string { return filepath.Join(l.Dir, AnalyticsLockFile) }

// IgnoreFile is kept beside the index directory so Clean leaves it alone.
func (l Layout) IgnoreFile() string { return filepath.Join(l.Root, config.IgnoreFileName) }

// Exists reports whether a manifest is present.
func (l Layout) Exists() bool {
	_, err := os.Stat(l.Manifest())
	return err == nil
}

// Ensure creates the index directory.
func (l Layout) Ensure() error {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	return nil
}

// Clean removes the index directory and everything in it.
func (l Layout) Clean() error {
	if err := os.RemoveAll(l.Dir); err != nil {
		return fmt.Errorf("failed to remove index directory: %w", err)
	}
	return nil
}

// removeTemps deletes the generation temps left by an interrupted build.
// Other temps in the directory, such as analytics.json.tmp, belong to
// writers outside the build lock and are left alone.
func (l Layout) removeTemps() int {
	removed := 0
	for _, p := range []string{l.Vectors(), l.Meta(), l.Manifest()} {
		if os.Remove(tmpPath(p)) == nil {
			removed++
		}
	}
	return removed
}

func tmpPath(p string) string { return p + tmpSuffix }

// Path resolves a slash-separated project-relative path.
func (l Layout) Path(rel string) string { return absPath(l.Root, rel) }

// absPath joins a slash-separated relative path onto root.
func absPath(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}
