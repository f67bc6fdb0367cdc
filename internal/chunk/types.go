// Package chunk splits source files into line-addressed spans for embedding.
//
// Three tiers are tried in order and the first that applies wins:
// structural (tree-sitter top-level units), paragraph (blocks separated by
// blank-line runs) and fixed window. Spans never cross file boundaries.
package chunk

// Window defaults.
const (
	DefaultLines   = 160
	DefaultOverlap = 32
	MinLines       = 8

	PreviewLines = 8
	PreviewBytes = 800
)

// Tier identifies the strategy that produced a span.
type Tier string

const (
	TierStructural Tier = "structural"
	TierParagraph  Tier = "paragraph"
	TierWindow     Tier = "window"
)

// Mode selects which tiers are available.
type Mode string

const (
	// ModeAuto tries structural, then paragraph, then window.
	ModeAuto Mode = "auto"
	// ModeLines always uses fixed windows.
	ModeLines Mode = "lines"
)

// Span is a contiguous, 1-based inclusive line range of a file.
type Span struct {
	Start int
	End   int
	Text  string
	Tier  Tier
}

// Options configures a Chunker.
type Options struct {
	Mode    Mode
	Lines   int
	Overlap int
}

// normalize applies defaults, the window floor and the overlap clamp.
func (o Options) normalize() Options {
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	if o.Lines <= 0 {
		o.Lines = DefaultLines
	}
	if o.Lines < MinLines {
		o.Lines = MinLines
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap > o.Lines/2 {
		o.Overlap = o.Lines / 2
	}
	return o
}

// segment is a line range before text is attached.
type segment struct {
	start, end int
}
