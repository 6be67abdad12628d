package segment

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/model"
)

const (
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimePDF      = "application/pdf"
	MimeText     = "text/plain"
	MimeMarkdown = "text/markdown"
)

// Parsed is the output of the parse phase.
type Parsed struct {
	Document    model.ParsedDocument `json:"document"`
	PreviewText string               `json:"previewText"`
	PreviewHTML string               `json:"previewHtml,omitempty"`
}

// Format resolves the parser to use from a MIME type, falling back to the
// file extension of name.
func Format(mimeType, name string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case MimeDOCX, MimePDF, MimeText, MimeMarkdown:
		return mt
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".docx":
		return MimeDOCX
	case ".pdf":
		return MimePDF
	case ".txt":
		return MimeText
	case ".md", ".markdown":
		return MimeMarkdown
	}
	return mt
}

// Parse structures raw file bytes. title becomes the document title.
func Parse(data []byte, mimeType, name, title string) (*Parsed, error) {
	var (
		doc model.ParsedDocument
		err error
	)
	switch format := Format(mimeType, name); format {
	case MimeDOCX:
		doc, err = ParseDOCX(data)
	case MimeText, MimeMarkdown:
		doc = ParseText(data, format == MimeMarkdown || strings.HasSuffix(strings.ToLower(name), ".md"))
	case MimePDF:
		doc, err = ParsePDF(data)
	default:
		return nil, fmt.Errorf("%w: %q", apperr.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	doc.Title = title

	return &Parsed{
		Document:    doc,
		PreviewText: PreviewText(doc),
		PreviewHTML: PreviewHTML(doc),
	}, nil
}
