package segment

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/model"
)

const maxDocumentXMLBytes = 64 << 20

var headingStyle = regexp.MustCompile(`(?i)^heading\s*(\d)$`)

// ParseDOCX reads word/document.xml from a DOCX archive. Each body paragraph,
// including those inside table cells, becomes one Paragraph with its style,
// heading level, run formatting and placeholder spans. Drawings and footnote
// references are replaced by ObjectMarker and recorded as object spans.
func ParseDOCX(data []byte) (model.ParsedDocument, error) {
	var doc model.ParsedDocument

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return doc, fmt.Errorf("%w: not a docx archive: %v", apperr.ErrUnsupportedFormat, err)
	}

	var body io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body, err = f.Open()
			if err != nil {
				return doc, fmt.Errorf("failed to open document.xml: %w", err)
			}
			break
		}
	}
	if body == nil {
		return doc, fmt.Errorf("%w: document.xml missing", apperr.ErrUnsupportedFormat)
	}
	defer body.Close()

	dec := xml.NewDecoder(io.LimitReader(body, maxDocumentXMLBytes))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return doc, fmt.Errorf("failed to read document.xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "p" {
			continue
		}
		p, err := readParagraph(dec)
		if err != nil {
			return doc, err
		}
		if strings.TrimSpace(p.Text) != "" {
			doc.Paragraphs = append(doc.Paragraphs, p)
		}
	}
	return doc, nil
}

type paragraphBuilder struct {
	text    strings.Builder
	runs    []model.Run
	objects []model.PlaceholderSpan
	style   string
	outline *int
}

func (b *paragraphBuilder) addObject(ref string) {
	start := b.text.Len()
	b.text.WriteString(model.ObjectMarker)
	b.objects = append(b.objects, model.PlaceholderSpan{
		Index: len(b.objects),
		Kind:  model.SpanObject,
		Text:  model.ObjectMarker,
		Start: start,
		End:   b.text.Len(),
		Ref:   ref,
	})
	b.runs = append(b.runs, model.Run{Text: model.ObjectMarker})
}

// readParagraph consumes tokens up to the matching </w:p>.
func readParagraph(dec *xml.Decoder) (model.Paragraph, error) {
	var b paragraphBuilder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return model.Paragraph{}, fmt.Errorf("failed to read paragraph: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "pStyle":
				b.style = attr(t, "val")
				if err := dec.Skip(); err != nil {
					return model.Paragraph{}, err
				}
			case "outlineLvl":
				if n, err := strconv.Atoi(attr(t, "val")); err == nil {
					lvl := n + 1
					b.outline = &lvl
				}
				if err := dec.Skip(); err != nil {
					return model.Paragraph{}, err
				}
			case "r":
				if err := readRun(dec, &b); err != nil {
					return model.Paragraph{}, err
				}
			case "drawing", "pict", "object", "AlternateContent":
				// nested text boxes belong to the object, not this paragraph
				b.addObject(firstEmbed(dec))
			default:
				depth++
			}
		case xml.EndElement:
			depth--
		}
	}
	return b.paragraph(), nil
}

func (b *paragraphBuilder) paragraph() model.Paragraph {
	raw := b.text.String()
	text := strings.TrimSpace(raw)
	lead := strings.Index(raw, text)
	if text == "" {
		lead = 0
	}

	p := model.Paragraph{Text: text, StyleName: b.style, Runs: b.runs}
	if m := headingStyle.FindStringSubmatch(b.style); m != nil {
		lvl, _ := strconv.Atoi(m[1])
		p.Level = &lvl
	} else if b.outline != nil {
		p.Level = b.outline
	}

	p.PlaceholderSpans = BuildSentenceSpans(text)
	for _, obj := range b.objects {
		obj.Start -= lead
		obj.End -= lead
		if obj.Start < 0 || obj.End > len(text) {
			continue
		}
		p.PlaceholderSpans = append(p.PlaceholderSpans, obj)
	}
	return p
}

// readRun consumes one <w:r> element.
func readRun(dec *xml.Decoder, b *paragraphBuilder) error {
	var (
		run   model.Run
		text  strings.Builder
		depth = 1
		inT   bool
	)
	flush := func() {
		if text.Len() == 0 {
			return
		}
		run.Text = text.String()
		b.text.WriteString(run.Text)
		b.runs = append(b.runs, run)
		text.Reset()
	}

	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read run: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t", "delText":
				inT = t.Name.Local == "t"
				depth++
			case "tab":
				text.WriteByte('\t')
				depth++
			case "br", "cr":
				flush()
				b.text.WriteByte('\n')
				b.runs = append(b.runs, model.Run{Break: true})
				depth++
			case "b":
				run.Bold = onOff(t)
				depth++
			case "i":
				run.Italic = onOff(t)
				depth++
			case "u":
				v := attr(t, "val")
				run.Underline = v != "" && v != "none" && v != "0"
				depth++
			case "color":
				if v := attr(t, "val"); v != "" && !strings.EqualFold(v, "auto") {
					run.Color = "#" + strings.TrimPrefix(v, "#")
				}
				depth++
			case "sz":
				if n, err := strconv.ParseFloat(attr(t, "val"), 64); err == nil {
					run.SizePt = n / 2 // half-points
				}
				depth++
			case "rFonts":
				for _, name := range []string{"eastAsia", "ascii", "hAnsi"} {
					if v := attr(t, name); v != "" {
						run.Font = v
						break
					}
				}
				depth++
			case "drawing", "pict", "object", "AlternateContent":
				flush()
				b.addObject(firstEmbed(dec))
			case "footnoteReference", "endnoteReference":
				flush()
				b.addObject("footnote:" + attr(t, "id"))
				depth++
			default:
				depth++
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inT = false
			}
			depth--
		case xml.CharData:
			if inT {
				text.Write(t)
			}
		}
	}
	flush()
	return nil
}

// firstEmbed skips the current element and returns the first r:embed or
// r:id attribute found inside it.
func firstEmbed(dec *xml.Decoder) string {
	ref := ""
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return ref
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if ref == "" {
				if v := attr(t, "embed"); v != "" {
					ref = v
				} else if v := attr(t, "id"); v != "" && t.Name.Local == "imagedata" {
					ref = v
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return ref
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// onOff reads a WordprocessingML toggle such as <w:b/> or <w:b w:val="0"/>.
func onOff(se xml.StartElement) bool {
	switch attr(se, "val") {
	case "0", "false", "off":
		return false
	}
	return true
}
