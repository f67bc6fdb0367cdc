package pathfilter

import (
	"bytes"
	"unicode/utf8"
)

// SniffSize is the number of leading bytes inspected by IsBinary.
const SniffSize = 8 * 1024

var magicPrefixes = [][]byte{
	[]byte("%PDF"),
	[]byte("PK\x03\x04"),
	[]byte("\x7fELF"),
	[]byte("\x89PNG"),
	[]byte("MZ"),
	[]byte("GIF8"),
	[]byte("\xff\xd8\xff"),
	[]byte("\x1f\x8b"),
}

// IsBinary classifies the leading window of a file.
func IsBinary(head []byte) bool {
	if len(head) > SniffSize {
		head = head[:SniffSize]
	}
	if len(head) == 0 {
		return false
	}

	for _, magic := range magicPrefixes {
		if bytes.HasPrefix(head, magic) {
			return true
		}
	}

	if nul := bytes.Count(head, []byte{0}); nul*10 > len(head) {
		return true
	}

	return !validUTF8Window(head)
}

// validUTF8Window is utf8.Valid except that a rune cut off by the end of
// the window is accepted.
func validUTF8Window(b []byte) bool {
	if utf8.Valid(b) {
		return true
	}
	for back := 1; back < utf8.UTFMax && back <= len(b); back++ {
		start := len(b) - back
		if !utf8.RuneStart(b[start]) {
			continue
		}
		return !utf8.FullRune(b[start:]) && utf8.Valid(b[:start])
	}
	return false
}
