package searcher

import (
	"html"
	"sort"
	"strings"
	"unicode"
)

type span struct{ start, end int }

// Snippet returns about length runes of content around the densest cluster
// of terms. Whitespace runs collapse to one space, the text is HTML-escaped
// and every term occurrence is wrapped in <b></b>. "..." marks a cut at
// either end. Terms must be lowercase.
func Snippet(content string, terms []string, length int) string {
	text := []rune(strings.Join(strings.Fields(content), " "))
	if len(text) == 0 || length <= 0 {
		return ""
	}

	lower := make([]rune, len(text))
	for i, r := range text {
		lower[i] = unicode.ToLower(r)
	}
	spans := findSpans(lower, terms)

	start := 0
	if len(text) > length && len(spans) > 0 {
		start = bestWindow(spans, length)
		// Lead in with some context before the first hit.
		start -= length / 4
		if start < 0 {
			start = 0
		}
		if start+length > len(text) {
			start = len(text) - length
		}
	}
	end := start + length
	if end > len(text) {
		end = len(text)
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	pos := start
	for _, s := range spans {
		if s.end <= start || s.start >= end {
			continue
		}
		from, to := max(s.start, start), min(s.end, end)
		b.WriteString(html.EscapeString(string(text[pos:from])))
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(string(text[from:to])))
		b.WriteString("</b>")
		pos = to
	}
	b.WriteString(html.EscapeString(string(text[pos:end])))
	if end < len(text) {
		b.WriteString("...")
	}
	return b.String()
}

// findSpans returns the merged, sorted rune ranges of every term occurrence.
func findSpans(lower []rune, terms []string) []span {
	var spans []span
	for _, t := range terms {
		needle := []rune(t)
		if len(needle) == 0 || len(needle) > len(lower) {
			continue
		}
		for i := 0; i+len(needle) <= len(lower); i++ {
			if equalRunes(lower[i:i+len(needle)], needle) {
				spans = append(spans, span{i, i + len(needle)})
				i += len(needle) - 1
			}
		}
	}
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			last.end = max(last.end, s.end)
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// bestWindow returns the start of the span that begins the window of the
// given length covering the most spans. Earlier windows win ties.
func bestWindow(spans []span, length int) int {
	best, bestCount := spans[0].start, 0
	j := 0
	for i := range spans {
		if j < i {
			j = i
		}
		for j < len(spans) && spans[j].end <= spans[i].start+length {
			j++
		}
		if n := j - i; n > bestCount {
			best, bestCount = spans[i].start, n
		}
	}
	return best
}

func equalRunes(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
