package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/transflow/api/internal/model"
)

// minSentenceRunes is the shortest fragment kept as its own sentence span.
// Shorter trailing fragments are merged into the previous span.
const minSentenceRunes = 12

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '；', ';':
		return true
	}
	return false
}

// BuildSentenceSpans splits text into sentence spans on terminal
// punctuation. The text itself is never modified; spans index into it by byte
// offset so a translator can wrap them as <|i|>...</|i|> and map them back.
func BuildSentenceSpans(text string) []model.PlaceholderSpan {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var parts []model.PlaceholderSpan
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		end := i + size
		boundary := isSentenceEnd(r)
		if r == '.' {
			// a period ends a sentence only before whitespace or end of text
			next, _ := utf8.DecodeRuneInString(text[end:])
			boundary = end == len(text) || unicode.IsSpace(next)
		}
		if boundary {
			// swallow repeated punctuation ("?!", "...")
			for end < len(text) {
				nr, ns := utf8.DecodeRuneInString(text[end:])
				if !isSentenceEnd(nr) && nr != '.' {
					break
				}
				end += ns
			}
			parts = appendSpan(parts, text, start, end)
			start = end
			i = end
			continue
		}
		i = end
	}
	if start < len(text) {
		parts = appendSpan(parts, text, start, len(text))
	}

	merged := make([]model.PlaceholderSpan, 0, len(parts))
	for _, sp := range parts {
		if n := len(merged); n > 0 && utf8.RuneCountInString(strings.TrimSpace(sp.Text)) < minSentenceRunes {
			prev := &merged[n-1]
			prev.End = sp.End
			prev.Text = text[prev.Start:prev.End]
			continue
		}
		merged = append(merged, sp)
	}
	for i := range merged {
		merged[i].Index = i
	}
	return merged
}

func appendSpan(parts []model.PlaceholderSpan, text string, start, end int) []model.PlaceholderSpan {
	seg := text[start:end]
	if strings.TrimSpace(seg) == "" {
		return parts
	}
	return append(parts, model.PlaceholderSpan{Kind: model.SpanSentence, Text: seg, Start: start, End: end})
}
