package search

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// minTail is the smallest remainder of the budget worth spending on a
// partial chunk.
const minTail = 120

// BuildContext lays hits out in rank order until budget characters are
// used. It returns the block, how many hits it holds and whether a hit was
// cut or dropped. A budget <= 0 means DefaultContextBudget.
func BuildContext(hits []Hit, budget int) (string, int, bool) {
	if budget <= 0 {
		budget = DefaultContextBudget
	}

	var sb strings.Builder
	used, items := 0, 0
	for _, h := range hits {
		header := fmt.Sprintf("--- %s:%d-%d (%s, score %.3f) ---\n", h.Path, h.Start, h.End, langOrText(h.Lang), h.Score)
		body := strings.TrimRight(h.Text, "\n") + "\n\n"

		need := utf8.RuneCountInString(header) + utf8.RuneCountInString(body)
		if used+need <= budget {
			sb.WriteString(header)
			sb.WriteString(body)
			used += need
			items++
			continue
		}

		left := budget - used - utf8.RuneCountInString(header)
		if left >= minTail || (items == 0 && left > 0) {
			sb.WriteString(header)
			sb.WriteString(cutLines(body, left))
			items++
		}
		return sb.String(), items, true
	}
	return sb.String(), items, false
}

// cutLines returns at most n runes of s, backing off to the last full line
// when one fits.
func cutLines(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	cut := s
	i := 0
	for pos := range s {
		if i == n {
			cut = s[:pos]
			break
		}
		i++
	}
	if nl := strings.LastIndexByte(cut, '\n'); nl > 0 {
		cut = cut[:nl+1]
	}
	return cut
}

func langOrText(lang string) string {
	if lang == "" {
		return "text"
	}
	return lang
}
