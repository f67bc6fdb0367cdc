package chunk

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"
)

// Chunker splits file contents into spans. It is safe for concurrent use.
type Chunker struct {
	opts     Options
	registry *LanguageRegistry
	parsers  sync.Pool
}

// New creates a Chunker with the given options.
func New(opts Options) *Chunker {
	c := &Chunker{
		opts:     opts.normalize(),
		registry: DefaultRegistry(),
	}
	c.parsers.New = func() any { return NewParserWithRegistry(c.registry) }
	return c
}

// Options returns the effective (normalized) options.
func (c *Chunker) Options() Options { return c.opts }

// Chunk splits content of the file at relPath. Empty or whitespace-only
// content yields no spans.
func (c *Chunker) Chunk(ctx context.Context, relPath string, content []byte) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines := splitLines(string(content))
	n := lastNonBlank(lines)
	if n == 0 {
		return nil, nil
	}
	lines = lines[:n]

	if c.opts.Mode == ModeLines {
		return c.build(lines, windowSegments(1, n, c.opts.Lines, c.opts.Overlap), TierWindow), nil
	}

	if cfg, ok := c.registry.GetByExtension(path.Ext(relPath)); ok {
		starts, err := c.units(ctx, content, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Debug("chunk_parse_failed", slog.String("path", relPath), slog.String("error", err.Error()))
		} else if len(starts) > 0 {
			return c.build(lines, c.merge(boundariesToSegments(starts, n)), TierStructural), nil
		}
	}

	if blocks := paragraphSegments(lines); len(blocks) > 1 {
		return c.build(lines, c.merge(blocks), TierParagraph), nil
	}

	return c.build(lines, windowSegments(1, n, c.opts.Lines, c.opts.Overlap), TierWindow), nil
}

func (c *Chunker) units(ctx context.Context, content []byte, cfg *LanguageConfig) ([]int, error) {
	p := c.parsers.Get().(*Parser)
	defer c.parsers.Put(p)
	return p.Units(ctx, content, cfg)
}

// merge joins adjacent segments while the combined span fits in the window
// and splits segments that are longer than the window.
func (c *Chunker) merge(segs []segment) []segment {
	limit := c.opts.Lines
	var out []segment
	for _, s := range segs {
		if s.end-s.start+1 > limit {
			out = append(out, windowSegments(s.start, s.end, limit, 0)...)
			continue
		}
		if len(out) > 0 {
			last := &out[len(out)-1]
			if s.end-last.start+1 <= limit {
				last.end = s.end
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// build applies the overlap to every span after the first and attaches text.
func (c *Chunker) build(lines []string, segs []segment, tier Tier) []Span {
	spans := make([]Span, 0, len(segs))
	for i, s := range segs {
		start := s.start
		if i > 0 && c.opts.Overlap > 0 && tier != TierWindow {
			start -= c.opts.Overlap
			if start < 1 {
				start = 1
			}
		}
		text := strings.Join(lines[start-1:s.end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		spans = append(spans, Span{Start: start, End: s.end, Text: text, Tier: tier})
	}
	return spans
}

// windowSegments returns fixed windows over [from, to] where each window
// after the first starts overlap lines before the previous end.
func windowSegments(from, to, size, overlap int) []segment {
	var out []segment
	start := from
	for {
		end := start + size - 1
		if end >= to {
			out = append(out, segment{start, to})
			return out
		}
		out = append(out, segment{start, end})
		start = end - overlap + 1
	}
}

// boundariesToSegments turns unit start lines into a partition of [1, n].
// The first segment always starts at line 1.
func boundariesToSegments(starts []int, n int) []segment {
	out := make([]segment, 0, len(starts))
	for i, s := range starts {
		if i == 0 {
			s = 1
		}
		if s > n {
			break
		}
		end := n
		if i+1 < len(starts) && starts[i+1]-1 < n {
			end = starts[i+1] - 1
		}
		if end < s {
			continue
		}
		out = append(out, segment{s, end})
	}
	return out
}

// paragraphSegments splits on runs of two or more blank lines. Blank
// separator lines belong to the preceding block.
func paragraphSegments(lines []string) []segment {
	var out []segment
	start := 1
	blank := 0
	for i, line := range lines {
		lineNo := i + 1
		if strings.TrimSpace(line) == "" {
			blank++
			continue
		}
		if blank >= 2 && lineNo-blank > start {
			out = append(out, segment{start, lineNo - 1})
			start = lineNo
		}
		blank = 0
	}
	out = append(out, segment{start, len(lines)})
	return out
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// lastNonBlank returns the 1-based index of the last non-blank line, or 0.
func lastNonBlank(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return i + 1
		}
	}
	return 0
}
