package pathfilter

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// gitRule is a single compiled .gitignore line.
type gitRule struct {
	regex    *regexp.Regexp
	negation bool // starts with !
	dirOnly  bool // ends with /
	anchored bool // leading / or an inner /
}

// gitMatcher holds the rules of one .gitignore file. Paths passed to match
// are relative to the directory holding that file.
type gitMatcher struct {
	rules []gitRule
}

// parseGitignore compiles the lines of a .gitignore file.
func parseGitignore(content string) *gitMatcher {
	m := &gitMatcher{}
	for _, line := range strings.Split(content, "\n") {
		m.add(line)
	}
	return m
}

// loadGitignore reads and compiles path. A missing file yields an empty matcher.
func loadGitignore(path string) (*gitMatcher, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &gitMatcher{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open gitignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	m := &gitMatcher{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gitignore file: %w", err)
	}
	return m, nil
}

func (m *gitMatcher) add(line string) {
	escapedSpace := strings.HasSuffix(line, `\ `)
	line = strings.TrimRight(line, "\r")
	pattern := strings.TrimSpace(line)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return
	}

	var r gitRule
	switch {
	case strings.HasPrefix(pattern, `\#`), strings.HasPrefix(pattern, `\!`):
		pattern = pattern[1:]
	case strings.HasPrefix(pattern, "!"):
		r.negation = true
		pattern = pattern[1:]
	}

	if escapedSpace && strings.HasSuffix(pattern, `\`) {
		pattern = strings.TrimSuffix(pattern, `\`) + " "
	}

	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}
	// "doc/frotz" is relative to the .gitignore directory, "**/frotz" is not.
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
		r.anchored = true
	}
	if pattern == "" {
		return
	}

	re, err := regexp.Compile("^" + globToRegex(pattern) + "$")
	if err != nil {
		slog.Warn("gitignore_bad_pattern", slog.String("pattern", line), slog.String("error", err.Error()))
		return
	}
	r.regex = re
	m.rules = append(m.rules, r)
}

// match reports whether any rule matched rel and, if so, whether the last
// matching rule ignores it.
func (m *gitMatcher) match(rel string, isDir bool) (matched, ignored bool) {
	if m == nil {
		return false, false
	}
	for _, r := range m.rules {
		if r.matches(rel, isDir) {
			matched = true
			ignored = !r.negation
		}
	}
	return matched, ignored
}

func (r gitRule) matches(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")

	if r.anchored {
		if r.regex.MatchString(rel) {
			return !r.dirOnly || isDir
		}
		// A matched directory excludes everything beneath it.
		for i := 1; i < len(parts); i++ {
			if r.regex.MatchString(strings.Join(parts[:i], "/")) {
				return true
			}
		}
		return false
	}

	for i, part := range parts {
		if !r.regex.MatchString(part) {
			continue
		}
		last := i == len(parts)-1
		if last && r.dirOnly {
			return isDir
		}
		return true
	}
	// Patterns that start with **/ can span several components.
	return !r.dirOnly && r.regex.MatchString(rel)
}

// globToRegex converts a gitignore glob to a regular expression body.
func globToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
					continue
				}
				if i == 0 || pattern[i-1] == '/' {
					b.WriteString(".*")
					i++
					continue
				}
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			j := strings.IndexByte(pattern[i+1:], ']')
			if j < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+1+j]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += j + 1
		case '\\':
			if i+1 < len(pattern) {
				i++
				b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
