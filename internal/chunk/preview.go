package chunk

import (
	"strings"
	"unicode/utf8"
)

// Preview returns the first PreviewLines lines of text, capped at
// PreviewBytes on a rune boundary.
func Preview(text string) string {
	lines := strings.SplitN(text, "\n", PreviewLines+1)
	if len(lines) > PreviewLines {
		lines = lines[:PreviewLines]
	}
	out := strings.Join(lines, "\n")
	if len(out) <= PreviewBytes {
		return out
	}
	cut := PreviewBytes
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut]
}
