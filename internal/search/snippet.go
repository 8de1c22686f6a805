package search

import (
	"sort"
	"strings"
)

// Snippet bounds in words.
const (
	DefaultSnippetMin = 20
	DefaultSnippetMax = 50
)

// markStart and markEnd wrap matched words so renderers can highlight them
// without re-running the search.
const (
	markStart = "<mark>"
	markEnd   = "</mark>"
)

// SnippetBounds carries the minimum and maximum word counts for extracted
// snippets.
type SnippetBounds struct {
	Min int
	Max int
}

// DefaultSnippetBounds returns the 20–50 word window.
func DefaultSnippetBounds() SnippetBounds {
	return SnippetBounds{Min: DefaultSnippetMin, Max: DefaultSnippetMax}
}

// Extract selects a window of words from text around the matched word
// positions. The window contains as many of the earliest matches as fit
// within the maximum, expanding outward from the first match. Text shorter
// than the minimum is returned in full. Zero matches yield a plain leading
// window. The result never exceeds the maximum word bound.
func (b SnippetBounds) Extract(text string, matchPositions []int) string {
	words := SplitWords(text)
	if len(words) == 0 {
		return ""
	}

	matches := make([]int, 0, len(matchPositions))
	for _, pos := range matchPositions {
		if pos >= 0 && pos < len(words) {
			matches = append(matches, pos)
		}
	}
	sort.Ints(matches)

	start, end := 0, len(words)
	switch {
	case len(words) <= b.Min:
		// whole text
	case len(matches) == 0:
		end = min(len(words), b.Max)
	default:
		first := matches[0]
		last := first
		for _, pos := range matches[1:] {
			if pos-first+1 <= b.Max {
				last = pos
			}
		}
		start, end = expandWindow(first, last+1, len(words), b.Max)
	}

	matchSet := make(map[int]struct{}, len(matches))
	for _, pos := range matches {
		matchSet[pos] = struct{}{}
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		if i > start {
			sb.WriteByte(' ')
		}
		if _, ok := matchSet[i]; ok {
			sb.WriteString(markStart)
			sb.WriteString(words[i])
			sb.WriteString(markEnd)
		} else {
			sb.WriteString(words[i])
		}
	}
	return sb.String()
}

// expandWindow grows [start, end) outward from the match span until it holds
// maxWords or covers the whole text.
func expandWindow(start, end, total, maxWords int) (int, int) {
	for end-start < maxWords && (start > 0 || end < total) {
		if start > 0 {
			start--
		}
		if end-start < maxWords && end < total {
			end++
		}
	}
	return start, end
}
