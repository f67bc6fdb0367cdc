// Package vcs reads change information from git.
//
// All paths returned are slash-separated and relative to the directory the
// Repo was opened on, which may be a subdirectory of the git work tree.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// NoRevision is recorded when a project is not under git.
const NoRevision = "none"

// ErrNotRepo is returned when git is unavailable or dir is not in a work tree.
var ErrNotRepo = errors.New("not a git repository")

// Change status codes.
const (
	Added    = 'A'
	Modified = 'M'
	Deleted  = 'D'
)

// Change is a single path-level change.
type Change struct {
	Status byte
	Path   string
}

// Repo runs git commands for a project directory.
type Repo struct {
	dir    string
	prefix string // project dir relative to the work tree top, with trailing slash
}

// Available reports whether a git binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// FindRoot walks up from start to the nearest directory containing .git.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no .git above %s", ErrNotRepo, start)
		}
		dir = parent
	}
}

// Open returns a Repo for dir or ErrNotRepo.
func Open(ctx context.Context, dir string) (*Repo, error) {
	if !Available() {
		return nil, fmt.Errorf("%w: git not found on PATH", ErrNotRepo)
	}
	r := &Repo{dir: dir}
	out, err := r.run(ctx, "rev-parse", "--show-prefix")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRepo, err)
	}
	r.prefix = strings.TrimSpace(out)
	return r, nil
}

// HeadRevision returns the commit id of HEAD.
func (r *Repo) HeadRevision(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// DiffNameStatus lists tracked changes between rev and the work tree.
func (r *Repo) DiffNameStatus(ctx context.Context, rev string) ([]Change, error) {
	if strings.TrimSpace(rev) == "" || rev == NoRevision {
		return nil, fmt.Errorf("diff revision is required")
	}
	out, err := r.run(ctx, "-c", "core.quotepath=false", "diff", "--name-status", "--no-renames", rev, "--", ".")
	if err != nil {
		return nil, fmt.Errorf("git diff failed: %w", err)
	}
	return r.relativize(ParseNameStatus(out)), nil
}

// StatusPorcelain lists work-tree changes including untracked files.
func (r *Repo) StatusPorcelain(ctx context.Context) ([]Change, error) {
	out, err := r.run(ctx, "-c", "core.quotepath=false", "status", "--porcelain", "--untracked-files=all", "--", ".")
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}
	return r.relativize(ParsePorcelain(out)), nil
}

// HasChanges reports whether anything changed since rev.
func (r *Repo) HasChanges(ctx context.Context, rev string) (bool, error) {
	head, err := r.HeadRevision(ctx)
	if err != nil {
		return false, err
	}
	if head != rev {
		return true, nil
	}
	status, err := r.StatusPorcelain(ctx)
	if err != nil {
		return false, err
	}
	return len(status) > 0, nil
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return string(out), nil
}

// relativize strips the work-tree prefix and drops paths outside it.
func (r *Repo) relativize(changes []Change) []Change {
	if r.prefix == "" {
		return changes
	}
	out := changes[:0]
	for _, c := range changes {
		if !strings.HasPrefix(c.Path, r.prefix) {
			continue
		}
		c.Path = strings.TrimPrefix(c.Path, r.prefix)
		out = append(out, c)
	}
	return out
}

// ParseNameStatus parses `git diff --name-status`. Renames and copies
// become a delete of the old path (renames only) plus an add of the new.
func ParseNameStatus(output string) []Change {
	var changes []Change
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			fields = strings.Fields(line)
		}
		if len(fields) < 2 {
			continue
		}
		status := fields[0]
		switch status[0] {
		case 'R', 'C':
			if len(fields) < 3 {
				continue
			}
			if status[0] == 'R' {
				changes = append(changes, Change{Status: Deleted, Path: unquote(fields[1])})
			}
			changes = append(changes, Change{Status: Added, Path: unquote(fields[2])})
		case 'A':
			changes = append(changes, Change{Status: Added, Path: unquote(fields[1])})
		case 'D':
			changes = append(changes, Change{Status: Deleted, Path: unquote(fields[1])})
		default:
			changes = append(changes, Change{Status: Modified, Path: unquote(fields[1])})
		}
	}
	return changes
}

// ParsePorcelain parses `git status --porcelain` (v1). Untracked files are
// reported as added.
func ParsePorcelain(output string) []Change {
	var changes []Change
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 4 {
			continue
		}
		status := line[:2]
		pathPart := line[3:]

		if strings.ContainsAny(status, "RC") {
			if parts := strings.SplitN(pathPart, " -> ", 2); len(parts) == 2 {
				if strings.Contains(status, "R") {
					changes = append(changes, Change{Status: Deleted, Path: unquote(parts[0])})
				}
				changes = append(changes, Change{Status: Added, Path: unquote(parts[1])})
				continue
			}
		}

		path := unquote(pathPart)
		switch {
		case status == "??":
			changes = append(changes, Change{Status: Added, Path: path})
		case status == "!!":
		case strings.Contains(status, "D"):
			changes = append(changes, Change{Status: Deleted, Path: path})
		case strings.Contains(status, "A"):
			changes = append(changes, Change{Status: Added, Path: path})
		default:
			changes = append(changes, Change{Status: Modified, Path: path})
		}
	}
	return changes
}

func unquote(p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, `"`) {
		if u, err := strconv.Unquote(p); err == nil {
			return u
		}
	}
	return p
}
