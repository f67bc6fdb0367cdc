package search

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Format is a query output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// DefaultLineNumberWidth pads snippet line numbers in text output.
const DefaultLineNumberWidth = 4

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatXML:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown format %q (want text, json or xml)", s)
}

// RenderOptions controls snippet output.
type RenderOptions struct {
	// Snippets includes the preview lines of each hit.
	Snippets bool
	// NoLineNumbers drops the line number gutter.
	NoLineNumbers bool
	// LineNumberWidth pads line numbers in text output.
	LineNumberWidth int
	// Diff marks snippet lines as additions.
	Diff bool
}

// Render writes res in the given format.
func Render(w io.Writer, res *Result, format Format, opts RenderOptions) error {
	if opts.LineNumberWidth <= 0 {
		opts.LineNumberWidth = DefaultLineNumberWidth
	}
	switch format {
	case FormatJSON:
		return renderJSON(w, res, opts)
	case FormatXML:
		return renderXML(w, res, opts)
	default:
		return renderText(w, res, opts)
	}
}

func snippetLines(h Hit) []string {
	if h.Preview == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(h.Preview, "\n"), "\n")
}

func renderText(w io.Writer, res *Result, opts RenderOptions) error {
	if !res.Confident || len(res.Hits) == 0 {
		_, err := fmt.Fprintln(w, NoInformation)
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", Summary(res.Confidence, len(res.Hits)))
	for _, h := range res.Hits {
		fmt.Fprintf(&sb, "[%d] %.3f %s:%d-%d (%s)\n", h.Rank, h.Score, h.Path, h.Start, h.End, langOrText(h.Lang))
		if !opts.Snippets {
			continue
		}
		prefix := ""
		if opts.Diff {
			prefix = "+ "
		}
		for i, line := range snippetLines(h) {
			if opts.NoLineNumbers {
				fmt.Fprintf(&sb, "%s%s\n", prefix, line)
				continue
			}
			fmt.Fprintf(&sb, "%*d | %s%s\n", opts.LineNumberWidth, h.Start+i, prefix, line)
		}
		sb.WriteString("---\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

type jsonHit struct {
	Rank    int      `json:"rank"`
	Score   float64  `json:"score"`
	Path    string   `json:"path"`
	Start   int      `json:"start"`
	End     int      `json:"end"`
	Lang    string   `json:"lang"`
	Snippet []string `json:"snippet"`
}

func renderJSON(w io.Writer, res *Result, opts RenderOptions) error {
	items := make([]jsonHit, 0, len(res.Hits))
	if res.Confident {
		for _, h := range res.Hits {
			item := jsonHit{
				Rank:  h.Rank,
				Score: float64(h.Score),
				Path:  h.Path,
				Start: h.Start,
				End:   h.End,
				Lang:  h.Lang,
			}
			if opts.Snippets {
				item.Snippet = snippetLines(h)
			}
			items = append(items, item)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(items)
}

type xmlResults struct {
	XMLName    xml.Name `xml:"results"`
	Confidence string   `xml:"confidence,attr"`
	Summary    string   `xml:"summary,attr"`
	Hits       []xmlHit `xml:"hit"`
}

type xmlHit struct {
	Rank    int         `xml:"rank,attr"`
	Score   string      `xml:"score,attr"`
	Path    string      `xml:"path,attr"`
	Start   int         `xml:"start,attr"`
	End     int         `xml:"end,attr"`
	Lang    string      `xml:"lang,attr"`
	Snippet *xmlSnippet `xml:"snippet,omitempty"`
}

type xmlSnippet struct {
	Lines []xmlLine `xml:"line"`
}

type xmlLine struct {
	N    int    `xml:"n,attr,omitempty"`
	Op   string `xml:"op,attr,omitempty"`
	Text string `xml:",chardata"`
}

func renderXML(w io.Writer, res *Result, opts RenderOptions) error {
	if !res.Confident || len(res.Hits) == 0 {
		_, err := fmt.Fprintln(w, "<results/>")
		return err
	}

	doc := xmlResults{
		Confidence: fmt.Sprintf("%.3f", res.Confidence),
		Summary:    Summary(res.Confidence, len(res.Hits)),
	}
	for _, h := range res.Hits {
		hit := xmlHit{
			Rank:  h.Rank,
			Score: fmt.Sprintf("%.3f", h.Score),
			Path:  h.Path,
			Start: h.Start,
			End:   h.End,
			Lang:  h.Lang,
		}
		if opts.Snippets {
			sn := &xmlSnippet{}
			for i, line := range snippetLines(h) {
				l := xmlLine{Text: line}
				if !opts.NoLineNumbers {
					l.N = h.Start + i
				}
				if opts.Diff {
					l.Op = "add"
				}
				sn.Lines = append(sn.Lines, l)
			}
			hit.Snippet = sn
		}
		doc.Hits = append(doc.Hits, hit)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode xml: %w", err)
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}
