package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/transflow/api/internal/model"
)

// Sanitize strips NUL and control characters except tab and newline,
// normalizes line endings to \n and trims surrounding whitespace.
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	out, _ := sanitize(s)
	return out
}

// sanitize returns the cleaned text and, for every byte offset of s
// (len(s)+1 entries), the matching offset in the cleaned text.
func sanitize(s string) (string, []int) {
	var b strings.Builder
	b.Grow(len(s))
	pos := make([]int, len(s)+1)

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		for k := 0; k < size; k++ {
			pos[i+k] = b.Len()
		}
		switch {
		case r == '\r':
			if i+1 >= len(s) || s[i+1] != '\n' {
				b.WriteByte('\n')
			}
		case r == '\t' || r == '\n':
			b.WriteRune(r)
		case unicode.IsControl(r):
		case r == utf8.RuneError && size == 1:
			// invalid byte
			b.WriteRune(utf8.RuneError)
		default:
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	pos[len(s)] = b.Len()

	cleaned := b.String()
	lead := len(cleaned) - len(strings.TrimLeftFunc(cleaned, unicode.IsSpace))
	out := strings.TrimSpace(cleaned)
	for i, p := range pos {
		p -= lead
		if p < 0 {
			p = 0
		}
		if p > len(out) {
			p = len(out)
		}
		pos[i] = p
	}
	return out, pos
}

// Prepare sanitizes every source text and drops segments that end up empty.
// It runs right before units are written.
func Prepare(segments []model.Segment) []model.Segment {
	out := make([]model.Segment, 0, len(segments))
	for _, s := range segments {
		text, pos := sanitize(s.SourceText)
		if text == "" {
			continue
		}
		if text != s.SourceText {
			s.Metadata.PlaceholderSpans = shiftSpans(s.Metadata.PlaceholderSpans, text, pos)
		}
		s.SourceText = text
		out = append(out, s)
	}
	return out
}

// shiftSpans moves spans onto the sanitized text using the offset map from
// sanitize. A span is dropped only when none of its own text survived.
func shiftSpans(spans []model.PlaceholderSpan, text string, pos []int) []model.PlaceholderSpan {
	if len(spans) == 0 {
		return spans
	}
	kept := spans[:0:0]
	for _, sp := range spans {
		if sp.Start < 0 || sp.End < sp.Start || sp.End >= len(pos) {
			continue
		}
		start, end := pos[sp.Start], pos[sp.End]
		if start >= end {
			continue
		}
		sp.Start, sp.End, sp.Text = start, end, text[start:end]
		kept = append(kept, sp)
	}
	return kept
}
