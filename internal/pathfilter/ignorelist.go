package pathfilter

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPatterns is the ignore list written on first run and by Reset.
var DefaultPatterns = []string{
	".*",
	".git",
	".repoindex",
	".idea",
	".vscode",
	"node_modules",
	"vendor",
	"target",
	"dist",
	"build",
	"__pycache__",
	"*.min.js",
	"*.lock",
}

const ignoreHeader = "# repoindex ignore list: one glob per line, matched against paths,\n# parent directories and basenames. Edit with `repoindex ignore`.\n"

// IgnoreList is the project's ordered set of ignore globs.
type IgnoreList struct {
	path     string
	patterns []string
}

// LoadIgnoreList reads the list at path. A missing file is created with
// DefaultPatterns.
func LoadIgnoreList(path string) (*IgnoreList, error) {
	l := &IgnoreList{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		l.patterns = append([]string(nil), DefaultPatterns...)
		if err := l.Save(); err != nil {
			return nil, err
		}
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore list: %w", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		l.patterns = append(l.patterns, line)
	}
	return l, nil
}

// Path returns the file backing the list.
func (l *IgnoreList) Path() string { return l.path }

// Patterns returns a copy of the current patterns.
func (l *IgnoreList) Patterns() []string {
	return append([]string(nil), l.patterns...)
}

// Add appends patterns that are not present yet and returns how many were added.
func (l *IgnoreList) Add(patterns ...string) int {
	added := 0
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || l.contains(p) {
			continue
		}
		l.patterns = append(l.patterns, p)
		added++
	}
	return added
}

// Remove deletes patterns and returns how many were removed.
func (l *IgnoreList) Remove(patterns ...string) int {
	drop := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		drop[strings.TrimSpace(p)] = true
	}
	kept := l.patterns[:0]
	removed := 0
	for _, p := range l.patterns {
		if drop[p] {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	l.patterns = kept
	return removed
}

// Reset restores DefaultPatterns.
func (l *IgnoreList) Reset() {
	l.patterns = append([]string(nil), DefaultPatterns...)
}

// Save writes the list sorted and deduplicated, via a temp file and rename.
func (l *IgnoreList) Save() error {
	sorted := append([]string(nil), l.patterns...)
	sort.Strings(sorted)
	uniq := sorted[:0]
	for i, p := range sorted {
		if i > 0 && p == sorted[i-1] {
			continue
		}
		uniq = append(uniq, p)
	}
	l.patterns = uniq

	var buf bytes.Buffer
	buf.WriteString(ignoreHeader)
	for _, p := range uniq {
		buf.WriteString(p)
		buf.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create ignore list directory: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write ignore list: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace ignore list: %w", err)
	}
	return nil
}

func (l *IgnoreList) contains(p string) bool {
	for _, existing := range l.patterns {
		if existing == p {
			return true
		}
	}
	return false
}
