package model

// Paragraph is one block of a parsed document.
type Paragraph struct {
	Text             string            `json:"text"`
	Level            *int              `json:"level,omitempty"`
	StyleName        string            `json:"styleName,omitempty"`
	Runs             []Run             `json:"runs,omitempty"`
	PlaceholderSpans []PlaceholderSpan `json:"placeholderSpans,omitempty"`
}

// ParsedDocument is the structured output of the parse phase.
type ParsedDocument struct {
	Title      string      `json:"title"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

// Segment is one typed unit produced by segmentation.
type Segment struct {
	Type       string       `json:"type"`
	SourceText string       `json:"sourceText"`
	Metadata   UnitMetadata `json:"metadata"`
}
