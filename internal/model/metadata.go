package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Metadata kinds
type MetadataKind string

const (
	MetadataHeading   MetadataKind = "heading"
	MetadataParagraph MetadataKind = "paragraph"
	MetadataGeneric   MetadataKind = "generic"
)

// Run is one formatted inline run of a paragraph.
type Run struct {
	Text      string  `json:"text"`
	Bold      bool    `json:"bold,omitempty"`
	Italic    bool    `json:"italic,omitempty"`
	Underline bool    `json:"underline,omitempty"`
	Color     string  `json:"color,omitempty"`
	SizePt    float64 `json:"sizePt,omitempty"`
	Font      string  `json:"font,omitempty"`
	Break     bool    `json:"br,omitempty"`
}

// Placeholder span kinds
const (
	SpanObject   = "object"
	SpanSentence = "sentence"
)

// ObjectMarker stands in for an inline non-text object inside source text.
const ObjectMarker = "\uFFFC"

// PlaceholderSpan marks a region of the source text that must survive
// translation untouched (inline objects) or be re-embedded by index (sentences).
// Start and End are byte offsets into the unit's source text.
type PlaceholderSpan struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Ref   string `json:"ref,omitempty"` // object spans: relationship id or footnote id
}

// UnitMetadata is the typed metadata bag attached to a translation unit.
// Kind selects which fields are meaningful.
type UnitMetadata struct {
	Kind MetadataKind `json:"kind"`

	// heading
	Level              int `json:"level,omitempty"`
	ParentHeadingOrder int `json:"parentHeadingOrder,omitempty"`

	// heading + paragraph
	StyleName string `json:"styleName,omitempty"`

	// paragraph
	Runs             []Run             `json:"runs,omitempty"`
	PlaceholderSpans []PlaceholderSpan `json:"placeholderSpans,omitempty"`
	HeadingOrder     int               `json:"headingOrder,omitempty"`

	// generic
	Extra map[string]string `json:"extra,omitempty"`
}

// HeadingMetadata builds heading metadata.
func HeadingMetadata(level int, style string, parent int) UnitMetadata {
	return UnitMetadata{Kind: MetadataHeading, Level: level, StyleName: style, ParentHeadingOrder: parent}
}

// ParagraphMetadata builds paragraph metadata.
func ParagraphMetadata(style string, runs []Run, spans []PlaceholderSpan, heading int) UnitMetadata {
	return UnitMetadata{Kind: MetadataParagraph, StyleName: style, Runs: runs, PlaceholderSpans: spans, HeadingOrder: heading}
}

// Validate checks the minimal schema for the metadata kind.
func (m UnitMetadata) Validate(text string) error {
	switch m.Kind {
	case MetadataHeading:
		if m.Level < 1 || m.Level > 6 {
			return fmt.Errorf("heading level %d out of range", m.Level)
		}
	case MetadataParagraph:
		for _, s := range m.PlaceholderSpans {
			if s.Start < 0 || s.End < s.Start || s.End > len(text) {
				return fmt.Errorf("placeholder span %d out of bounds", s.Index)
			}
		}
	case MetadataGeneric, "":
	default:
		return fmt.Errorf("unknown metadata kind %q", m.Kind)
	}
	return nil
}

// Value implements driver.Valuer
func (m UnitMetadata) Value() (driver.Value, error) {
	if m.Kind == "" {
		m.Kind = MetadataGeneric
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *UnitMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = UnitMetadata{Kind: MetadataGeneric}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for UnitMetadata")
	}
	if len(data) == 0 {
		*m = UnitMetadata{Kind: MetadataGeneric}
		return nil
	}
	return json.Unmarshal(data, m)
}

// GormDataType tells gorm which column type to use.
func (UnitMetadata) GormDataType() string {
	return "text"
}
