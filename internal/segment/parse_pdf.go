package segment

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/model"
)

var blankLines = regexp.MustCompile(`\n[ \t\f]*\n`)

// ParsePDF extracts the text layer page by page. Paragraphs are split on
// blank lines and never carry a heading level; PDFs expose no run styling.
func ParsePDF(data []byte) (doc model.ParsedDocument, err error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return doc, fmt.Errorf("%w: not a pdf: %v", apperr.ErrUnsupportedFormat, err)
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return doc, fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		pages = append(pages, text)
	}

	doc.Paragraphs = SplitParagraphs(strings.Join(pages, "\n\n"))
	if len(doc.Paragraphs) == 0 {
		return doc, fmt.Errorf("%w: pdf has no text layer", apperr.ErrUnsupportedFormat)
	}
	return doc, nil
}

// SplitParagraphs cuts extracted text into paragraphs at blank lines. Line
// breaks inside a paragraph are kept.
func SplitParagraphs(text string) []model.Paragraph {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []model.Paragraph
	for _, chunk := range blankLines.Split(text, -1) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		out = append(out, model.Paragraph{
			Text:             chunk,
			Runs:             []model.Run{{Text: chunk}},
			PlaceholderSpans: BuildSentenceSpans(chunk),
		})
	}
	return out
}
