package segment

import (
	"strings"

	"github.com/transflow/api/internal/model"
)

// ParseText splits plain text into one paragraph per non-blank line. With
// markdown set, ATX headings ("# Title") become heading paragraphs.
func ParseText(data []byte, markdown bool) model.ParsedDocument {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var doc model.ParsedDocument
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		p := model.Paragraph{}
		if markdown {
			if lvl, rest, ok := atxHeading(line); ok {
				level := lvl
				p.Level = &level
				line = rest
			}
		}
		p.Text = strings.TrimSpace(line)
		if p.Text == "" {
			continue
		}
		p.Runs = []model.Run{{Text: p.Text}}
		p.PlaceholderSpans = BuildSentenceSpans(p.Text)
		doc.Paragraphs = append(doc.Paragraphs, p)
	}
	return doc
}

func atxHeading(line string) (int, string, bool) {
	trimmed := strings.TrimLeft(line, " ")
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return 0, line, false
	}
	if n < len(trimmed) && trimmed[n] != ' ' && trimmed[n] != '\t' {
		return 0, line, false
	}
	rest := strings.TrimSpace(trimmed[n:])
	// optional closing sequence: "## Title ##"
	if i := strings.LastIndex(rest, " "); i >= 0 && strings.Trim(rest[i+1:], "#") == "" {
		rest = strings.TrimSpace(rest[:i])
	}
	return n, rest, true
}
