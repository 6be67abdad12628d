package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Document is a registered source file moving through the document pipeline.
type Document struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID   string         `gorm:"type:varchar(64);index" json:"tenantId,omitempty"`
	ProjectID  string         `gorm:"type:varchar(64);index" json:"projectId,omitempty"`
	URL        string         `gorm:"type:text;not null" json:"url"`
	Name       string         `gorm:"type:varchar(512)" json:"name"`
	MimeType   string         `gorm:"type:varchar(255)" json:"mimeType"`
	Status     DocumentStatus `gorm:"type:varchar(32);not null;index;default:'WAITING'" json:"status"`
	Structured datatypes.JSON `json:"structured,omitempty"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	Editable   bool           `gorm:"-" json:"editable"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentArtifacts records where derived artifacts were stored.
type DocumentArtifacts struct {
	BatchID        string `json:"batchId,omitempty"`
	StructuredKey  string `json:"structuredKey,omitempty"`
	PreviewKey     string `json:"previewKey,omitempty"`
	PreviewHTMLKey string `json:"previewHtmlKey,omitempty"`
	SegmentsKey    string `json:"segmentsKey,omitempty"`
	TermsKey       string `json:"termsKey,omitempty"`
}

// Artifacts decodes the structured column. A missing or broken value yields
// an empty struct.
func (d *Document) Artifacts() DocumentArtifacts {
	var a DocumentArtifacts
	if len(d.Structured) > 0 {
		_ = json.Unmarshal(d.Structured, &a)
	}
	return a
}

// SetArtifacts encodes a into the structured column.
func (d *Document) SetArtifacts(a DocumentArtifacts) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	d.Structured = datatypes.JSON(data)
}

// RegisterDocumentRequest represents the request body for document registration
type RegisterDocumentRequest struct {
	URL       string `json:"url" validate:"required,min=1"`
	Name      string `json:"name" validate:"omitempty,max=512"`
	MimeType  string `json:"mimeType" validate:"omitempty,max=255"`
	ProjectID string `json:"projectId" validate:"omitempty,max=64"`
}

// PhaseResponse is returned by every document pipeline phase
type PhaseResponse struct {
	OK   bool           `json:"ok"`
	Step DocumentStatus `json:"step"`
}

// ParseRequest represents the request body for the parse phase
type ParseRequest struct {
	BatchID string `json:"batchId" validate:"omitempty,max=128"`
}

// ParseResponse represents the response for the parse phase
type ParseResponse struct {
	PhaseResponse
	BatchID     string `json:"batchId"`
	Paragraphs  int    `json:"paragraphs"`
	Preview     string `json:"preview"`
	PreviewHTML string `json:"previewHtml,omitempty"`
}

// SegmentRequest represents the request body for the segment phase
type SegmentRequest struct {
	BatchID   string `json:"batchId" validate:"omitempty,max=128"`
	Preview   bool   `json:"preview"`
	HeadChars int    `json:"headChars" validate:"omitempty,min=0"`
	MaxParas  int    `json:"maxParas" validate:"omitempty,min=0"`
}

// SegmentResponse represents the response for the segment phase
type SegmentResponse struct {
	PhaseResponse
	BatchID  string    `json:"batchId"`
	Count    int       `json:"count"`
	Segments []Segment `json:"segments,omitempty"`
}

// TermsRequest represents the request body for the term extraction phase
type TermsRequest struct {
	BatchID string `json:"batchId" validate:"omitempty,max=128"`
	Prompt  string `json:"prompt" validate:"omitempty,max=2000"`
}

// TermsResponse represents the response for the term extraction phase
type TermsResponse struct {
	PhaseResponse
	BatchID string          `json:"batchId"`
	Status  string          `json:"status,omitempty"`
	Terms   []TermCandidate `json:"terms,omitempty"`
}

// Apply modes
const (
	ApplyModeAppend    = "append"
	ApplyModeOverwrite = "overwrite"
	ApplyModeUpsert    = "upsert"
)

// ApplyTermsRequest represents the request body for the apply phase
type ApplyTermsRequest struct {
	BatchID       string      `json:"batchId" validate:"omitempty,max=128"`
	Terms         []DictEntry `json:"terms" validate:"omitempty,dive"`
	DictionaryID  string      `json:"dictionaryId" validate:"omitempty,max=64"`
	Mode          string      `json:"mode" validate:"omitempty,oneof=append overwrite upsert"`
	AutoTranslate bool        `json:"autoTranslate"`
	JobID         string      `json:"jobId" validate:"omitempty,max=128"`

	SourceLanguage string `json:"sourceLanguage" validate:"omitempty,max=16"`
	TargetLanguage string `json:"targetLanguage" validate:"omitempty,max=16"`
	Domain         string `json:"domain" validate:"omitempty,max=64"`
}

// ApplyTermsResponse represents the response for the apply phase
type ApplyTermsResponse struct {
	PhaseResponse
	DictionaryID string `json:"dictionaryId"`
	Inserted     int    `json:"inserted"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Canceled     bool   `json:"canceled,omitempty"`
}

// Artifact names stored under a document batch
const (
	ArtifactParsed      = "parse.all"
	ArtifactPreview     = "parse.preview"
	ArtifactPreviewHTML = "parse.previewHtml"
	ArtifactSegments    = "seg.all"
	ArtifactTerms       = "terms.all"
	ArtifactTermsStatus = "terms.status"
)
