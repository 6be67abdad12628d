// Package segment turns a parsed document into ordered, typed translation units.
package segment

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/transflow/api/internal/model"
)

const (
	DefaultPreviewParagraphs = 20
	DefaultPreviewHeadChars  = 2000
	MinPreviewHeadChars      = 500
	MaxPreviewHeadChars      = 8000
	// PreviewScanLimit caps how many source paragraphs a preview looks at.
	PreviewScanLimit = 200
)

// Options selects preview or full segmentation.
type Options struct {
	Preview       bool
	MaxParagraphs int
	HeadChars     int
}

func (o Options) normalized() Options {
	if o.MaxParagraphs <= 0 {
		o.MaxParagraphs = DefaultPreviewParagraphs
	}
	if o.HeadChars <= 0 {
		o.HeadChars = DefaultPreviewHeadChars
	}
	if o.HeadChars < MinPreviewHeadChars {
		o.HeadChars = MinPreviewHeadChars
	}
	if o.HeadChars > MaxPreviewHeadChars {
		o.HeadChars = MaxPreviewHeadChars
	}
	return o
}

type headingRef struct {
	level int
	order int
}

// Segment emits a TITLE unit for a non-empty title, then one unit per
// paragraph with non-empty text in source order. Units are numbered from 1
// and heading linkage in metadata refers to those numbers.
func Segment(doc model.ParsedDocument, opts Options) []model.Segment {
	if opts.Preview {
		opts = opts.normalized()
	}

	var out []model.Segment
	if title := Sanitize(doc.Title); title != "" {
		out = append(out, model.Segment{
			Type:       model.UnitTypeTitle,
			SourceText: title,
			Metadata:   model.HeadingMetadata(1, "", 0),
		})
	}

	var (
		headings []headingRef // open headings, strictly increasing level
		paras    int
		chars    int
	)
	for i, p := range doc.Paragraphs {
		if opts.Preview && i >= PreviewScanLimit {
			break
		}
		text, pos := sanitize(p.Text)
		if text == "" {
			continue
		}
		spans := p.PlaceholderSpans
		if text != p.Text {
			spans = shiftSpans(spans, text, pos)
		}

		order := len(out) + 1
		seg := model.Segment{SourceText: text}
		if lvl, ok := headingLevel(p.Level); ok {
			for len(headings) > 0 && headings[len(headings)-1].level >= lvl {
				headings = headings[:len(headings)-1]
			}
			parent := 0
			if len(headings) > 0 {
				parent = headings[len(headings)-1].order
			}
			headings = append(headings, headingRef{level: lvl, order: order})

			seg.Type = model.UnitTypeHeading + strconv.Itoa(lvl)
			seg.Metadata = model.HeadingMetadata(lvl, p.StyleName, parent)
			seg.Metadata.Runs = p.Runs
			seg.Metadata.PlaceholderSpans = spans
		} else {
			under := 0
			if len(headings) > 0 {
				under = headings[len(headings)-1].order
			}
			seg.Type = paragraphType(p.StyleName)
			seg.Metadata = model.ParagraphMetadata(p.StyleName, p.Runs, spans, under)
		}
		out = append(out, seg)

		if opts.Preview {
			paras++
			chars += utf8.RuneCountInString(text) + 2
			if paras >= opts.MaxParagraphs || chars >= opts.HeadChars {
				break
			}
		}
	}
	return out
}

func headingLevel(level *int) (int, bool) {
	if level == nil || *level < 1 || *level > 6 {
		return 0, false
	}
	return *level, true
}

func paragraphType(style string) string {
	style = strings.TrimSpace(style)
	if style == "" {
		return model.UnitTypeText
	}
	return strings.ToUpper(style)
}
