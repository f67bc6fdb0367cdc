package index

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path"
	"sort"

	"github.com/Aman-CERP/repoindex/internal/pathfilter"
	"github.com/Aman-CERP/repoindex/internal/vcs"
)

// Delta sources.
const (
	DeltaGit  = "git"
	DeltaHash = "hash"
)

// Delta is the disjoint set of file changes since the indexed generation.
// Untracked files are reported as added.
type Delta struct {
	Added    []string
	Modified []string
	Deleted  []string
	// Source is DeltaGit or DeltaHash.
	Source string
	// Revision is the current HEAD, or vcs.NoRevision outside git.
	Revision string
}

// Empty reports whether nothing changed.
func (d *Delta) Empty() bool { return d.Len() == 0 }

// Len returns the number of changed paths.
func (d *Delta) Len() int { return len(d.Added) + len(d.Modified) + len(d.Deleted) }

// DeltaResolver computes a Delta for a project root. Every candidate passes
// through the path filter and is compared against the indexed file hashes,
// so git output only narrows which files are examined.
type DeltaResolver struct {
	filter *pathfilter.Filter
	// rescan skips git and hashes every eligible file.
	rescan bool
}

// NewDeltaResolver creates a resolver over filter's root.
func NewDeltaResolver(filter *pathfilter.Filter) *DeltaResolver {
	return &DeltaResolver{filter: filter}
}

// Resolve compares the working tree against indexed, a map of path to
// file sha256 taken from the current generation. revision is the revision
// the generation was built at; without git, or when revision is unknown,
// every eligible file is hashed.
func (r *DeltaResolver) Resolve(ctx context.Context, revision string, indexed map[string]string) (*Delta, error) {
	head := vcs.NoRevision
	repo, err := vcs.Open(ctx, r.filter.Root())
	if err == nil {
		if h, herr := repo.HeadRevision(ctx); herr == nil {
			head = h
		}
	}

	if !r.rescan && repo != nil && head != vcs.NoRevision && revision != "" && revision != vcs.NoRevision {
		candidates, err := r.gitCandidates(ctx, repo, revision, indexed)
		if err == nil {
			d, err := r.reconcile(ctx, candidates, indexed)
			if err != nil {
				return nil, err
			}
			d.Source, d.Revision = DeltaGit, head
			return d, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("delta_git_fallback", slog.String("revision", revision), slog.String("error", err.Error()))
	}

	d, err := r.hashDelta(ctx, indexed)
	if err != nil {
		return nil, err
	}
	d.Source, d.Revision = DeltaHash, head
	return d, nil
}

// errRulesChanged sends Resolve to a full hash comparison, since a changed
// .gitignore can make untouched files eligible.
var errRulesChanged = errors.New(".gitignore changed")

// gitCandidates unions the tracked diff against revision, the work-tree
// status and any indexed path the current rules now exclude.
func (r *DeltaResolver) gitCandidates(ctx context.Context, repo *vcs.Repo, revision string, indexed map[string]string) (map[string]bool, error) {
	diff, err := repo.DiffNameStatus(ctx, revision)
	if err != nil {
		return nil, err
	}
	status, err := repo.StatusPorcelain(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]bool, len(diff)+len(status))
	for _, c := range append(diff, status...) {
		if path.Base(c.Path) == ".gitignore" {
			return nil, errRulesChanged
		}
		candidates[c.Path] = true
	}
	for p := range indexed {
		if r.filter.Excluded(p) {
			candidates[p] = true
		}
	}
	return candidates, nil
}

// reconcile classifies candidate paths against the indexed hashes.
func (r *DeltaResolver) reconcile(ctx context.Context, candidates map[string]bool, indexed map[string]string) (*Delta, error) {
	paths := make([]string, 0, len(candidates))
	for p := range candidates {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	d := &Delta{}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		old, wasIndexed := indexed[p]

		if dec := r.filter.Check(p); !dec.Eligible {
			if wasIndexed {
				d.Deleted = append(d.Deleted, p)
			}
			continue
		}
		r.classify(d, p, old, wasIndexed)
	}
	return d, nil
}

// hashDelta walks the root and compares every eligible file's hash.
func (r *DeltaResolver) hashDelta(ctx context.Context, indexed map[string]string) (*Delta, error) {
	candidates, _ := r.filter.Walk(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := &Delta{}
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen[c.Path] = true
		old, wasIndexed := indexed[c.Path]
		r.classify(d, c.Path, old, wasIndexed)
	}

	var deleted []string
	for p := range indexed {
		if !seen[p] {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(deleted)
	d.Deleted = append(d.Deleted, deleted...)
	sort.Strings(d.Deleted)
	return d, nil
}

// classify hashes an eligible file and records it as added or modified.
// Blank files never produce chunks and so are never indexed; they are not
// reported as added. Unreadable files keep their indexed state.
func (r *DeltaResolver) classify(d *Delta, rel, old string, wasIndexed bool) {
	sum, blank, err := hashFile(absPath(r.filter.Root(), rel))
	if err != nil {
		slog.Warn("delta_read_failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	switch {
	case wasIndexed && blank:
		d.Deleted = append(d.Deleted, rel)
	case wasIndexed && sum != old:
		d.Modified = append(d.Modified, rel)
	case !wasIndexed && !blank:
		d.Added = append(d.Added, rel)
	}
}

// hashFile returns the sha256 hex of a file and whether it is blank.
func hashFile(abs string) (string, bool, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", false, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), len(bytes.TrimSpace(data)) == 0, nil
}
