package segment

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/transflow/api/internal/model"
)

// MaxPreviewHTML caps the rendered preview size in bytes.
const MaxPreviewHTML = 200_000

// PreviewText joins paragraph texts with newlines.
func PreviewText(doc model.ParsedDocument) string {
	lines := make([]string, 0, len(doc.Paragraphs))
	for _, p := range doc.Paragraphs {
		if t := strings.TrimSpace(p.Text); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}

// PreviewHTML renders headings as <hN> and other paragraphs as <p>, keeping
// run styling. Output stops at the last whole block under MaxPreviewHTML.
func PreviewHTML(doc model.ParsedDocument) string {
	var sb strings.Builder
	for _, p := range doc.Paragraphs {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		tag := "p"
		if lvl, ok := headingLevel(p.Level); ok {
			tag = "h" + strconv.Itoa(lvl)
		}
		block := "<" + tag + ">" + runsHTML(p) + "</" + tag + ">"
		if sb.Len()+len(block) > MaxPreviewHTML {
			break
		}
		sb.WriteString(block)
	}
	return sb.String()
}

func runsHTML(p model.Paragraph) string {
	if len(p.Runs) == 0 {
		return html.EscapeString(p.Text)
	}
	var sb strings.Builder
	for _, r := range p.Runs {
		if r.Break {
			sb.WriteString("<br/>")
			continue
		}
		var style []string
		if r.Bold {
			style = append(style, "font-weight:700")
		}
		if r.Italic {
			style = append(style, "font-style:italic")
		}
		if r.Underline {
			style = append(style, "text-decoration:underline")
		}
		if r.Color != "" {
			style = append(style, "color:"+r.Color)
		}
		if r.SizePt > 0 {
			style = append(style, fmt.Sprintf("font-size:%gpt", r.SizePt))
		}
		if r.Font != "" {
			style = append(style, fmt.Sprintf("font-family:%q", r.Font))
		}
		if len(style) > 0 {
			sb.WriteString(`<span style="` + html.EscapeString(strings.Join(style, ";")) + `">`)
		} else {
			sb.WriteString("<span>")
		}
		sb.WriteString(html.EscapeString(r.Text))
		sb.WriteString("</span>")
	}
	return sb.String()
}
