package pathfilter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxFileSize is the default per-file size cap.
const DefaultMaxFileSize int64 = 5 * 1024 * 1024

// gitignoreCacheSize bounds the number of cached per-directory matchers.
const gitignoreCacheSize = 1000

// Exclusion reasons reported in Decision.Reason.
const (
	ReasonIgnored    = "ignored"
	ReasonGitignored = "gitignored"
	ReasonTooLarge   = "too_large"
	ReasonBinary     = "binary"
	ReasonSymlink    = "symlink"
	ReasonMissing    = "missing"
)

// Decision is the outcome of an eligibility check.
type Decision struct {
	Eligible bool
	Reason   string
}

func eligible() Decision             { return Decision{Eligible: true} }
func excluded(reason string) Decision { return Decision{Reason: reason} }

// Options configures a Filter.
type Options struct {
	// Patterns is the project ignore list.
	Patterns []string
	// MaxFileSize is the size cap in bytes (0 = DefaultMaxFileSize).
	MaxFileSize int64
	// NoGitignore disables .gitignore processing.
	NoGitignore bool
}

// Filter applies the ignore list, .gitignore rules, the size cap and the
// binary check to paths under a project root.
type Filter struct {
	root      string
	patterns  []string
	maxSize   int64
	gitignore bool

	// gitCache maps a slash-separated directory (relative to root, "" for
	// the root) to the matcher of its .gitignore.
	gitCache *lru.Cache[string, *gitMatcher]
	cacheMu  sync.Mutex
}

// New creates a Filter rooted at root.
func New(root string, opts Options) (*Filter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for _, p := range opts.Patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}

	cache, err := lru.New[string, *gitMatcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	return &Filter{
		root:      absRoot,
		patterns:  append([]string(nil), opts.Patterns...),
		maxSize:   maxSize,
		gitignore: !opts.NoGitignore,
		gitCache:  cache,
	}, nil
}

// Root returns the absolute project root.
func (f *Filter) Root() string { return f.root }

// Eligible decides whether the file at rel (slash-separated, relative to
// the root) with the given size and leading bytes may be indexed. It does
// not touch the file itself except for reading .gitignore files.
func (f *Filter) Eligible(rel string, size int64, head []byte) Decision {
	if d := f.pathDecision(rel, false); !d.Eligible {
		return d
	}
	if size > f.maxSize {
		return excluded(ReasonTooLarge)
	}
	if IsBinary(head) {
		return excluded(ReasonBinary)
	}
	return eligible()
}

// Check stats and reads the head of the file at rel, then applies Eligible.
func (f *Filter) Check(rel string) Decision {
	rel = filepath.ToSlash(rel)
	if d := f.pathDecision(rel, false); !d.Eligible {
		return d
	}

	abs := filepath.Join(f.root, filepath.FromSlash(rel))
	info, err := os.Lstat(abs)
	if err != nil {
		return excluded(ReasonMissing)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return excluded(ReasonSymlink)
	}
	if !info.Mode().IsRegular() {
		return excluded(ReasonMissing)
	}

	head, err := readHead(abs)
	if err != nil {
		return excluded(ReasonMissing)
	}
	return f.Eligible(rel, info.Size(), head)
}

// Fingerprint digests the rules this Filter was built with: the ignore
// list, the size cap and whether .gitignore files are honored. Files that
// git reports as unchanged can still change eligibility when it differs.
func (f *Filter) Fingerprint() string {
	patterns := append([]string(nil), f.patterns...)
	sort.Strings(patterns)

	h := sha256.New()
	for _, p := range patterns {
		_, _ = io.WriteString(h, p)
		_, _ = h.Write([]byte{0})
	}
	_, _ = fmt.Fprintf(h, "max_size=%d gitignore=%t", f.maxSize, f.gitignore)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// SkipDir reports whether the directory at rel and everything below it is
// excluded.
func (f *Filter) SkipDir(rel string) bool {
	return !f.pathDecision(filepath.ToSlash(rel), true).Eligible
}

// Ignored reports whether rel is matched by the ignore list alone.
func (f *Filter) Ignored(rel string) bool {
	return f.matchesIgnoreList(filepath.ToSlash(rel))
}

// Excluded reports whether rel is excluded by the ignore list or .gitignore
// rules. The file itself is not read.
func (f *Filter) Excluded(rel string) bool {
	return !f.pathDecision(filepath.ToSlash(rel), false).Eligible
}

// InvalidateGitignore drops cached .gitignore matchers.
func (f *Filter) InvalidateGitignore() {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.gitCache.Purge()
}

func (f *Filter) pathDecision(rel string, isDir bool) Decision {
	if f.matchesIgnoreList(rel) {
		return excluded(ReasonIgnored)
	}
	if f.gitignore && f.gitignored(rel, isDir) {
		return excluded(ReasonGitignored)
	}
	return eligible()
}

// matchesIgnoreList matches each pattern against the full path, every
// parent directory and the basename.
func (f *Filter) matchesIgnoreList(rel string) bool {
	if len(f.patterns) == 0 {
		return false
	}
	candidates := []string{rel}
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		candidates = append(candidates, strings.Join(parts[:i], "/"))
	}
	candidates = append(candidates, path.Base(rel))

	for _, p := range f.patterns {
		for _, c := range candidates {
			if ok, _ := doublestar.Match(p, c); ok {
				return true
			}
		}
	}
	return false
}

// gitignored consults .gitignore files from the root down to the file's
// directory. Deeper files override shallower ones.
func (f *Filter) gitignored(rel string, isDir bool) bool {
	dirs := []string{""}
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		dirs = append(dirs, strings.Join(parts[:i], "/"))
	}

	ignored := false
	for _, dir := range dirs {
		m := f.matcherFor(dir)
		sub := rel
		if dir != "" {
			sub = strings.TrimPrefix(rel, dir+"/")
		}
		if matched, ign := m.match(sub, isDir); matched {
			ignored = ign
		}
	}
	return ignored
}

func (f *Filter) matcherFor(dir string) *gitMatcher {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()

	if m, ok := f.gitCache.Get(dir); ok {
		return m
	}
	m, err := loadGitignore(filepath.Join(f.root, filepath.FromSlash(dir), ".gitignore"))
	if err != nil {
		m = &gitMatcher{}
	}
	f.gitCache.Add(dir, m)
	return m
}

func readHead(abs string) ([]byte, error) {
	fh, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()

	buf := make([]byte, SniffSize)
	n, err := io.ReadFull(fh, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
