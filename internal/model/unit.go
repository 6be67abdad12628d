package model

import (
	"time"

	"gorm.io/datatypes"
)

// Unit is one ordered translation unit of a document.
type Unit struct {
	ID         string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	DocumentID string           `gorm:"type:varchar(36);not null;uniqueIndex:idx_unit_doc_order,priority:1" json:"documentId"`
	Order      int              `gorm:"column:sort_order;not null;uniqueIndex:idx_unit_doc_order,priority:2" json:"order"`
	SourceText string           `gorm:"type:text;not null" json:"sourceText"`
	TargetText string           `gorm:"type:text" json:"targetText,omitempty"`
	Status     TranslationStage `gorm:"type:varchar(32);not null;default:'NOT_STARTED';index" json:"status"`
	Type       string           `gorm:"type:varchar(64);not null;default:'TEXT'" json:"type"`
	Metadata   UnitMetadata     `json:"metadata"`

	PreTranslateTerms    datatypes.JSON `json:"preTranslateTerms,omitempty"`
	PreTranslateDict     datatypes.JSON `json:"preTranslateDict,omitempty"`
	PreTranslateEmbedded string         `gorm:"type:text" json:"preTranslateEmbedded,omitempty"`

	QABiTerm         datatypes.JSON `gorm:"column:qa_bi_term" json:"qaBiTerm,omitempty"`
	QASyntax         datatypes.JSON `gorm:"column:qa_syntax" json:"qaSyntax,omitempty"`
	QASyntaxEmbedded string         `gorm:"column:qa_syntax_embedded;type:text" json:"qaSyntaxEmbedded,omitempty"`

	PostEditQuery      datatypes.JSON `json:"postEditQuery,omitempty"`
	PostEditEvaluation datatypes.JSON `json:"postEditEvaluation,omitempty"`
	PostEditDiscourse  string         `gorm:"type:text" json:"postEditDiscourse,omitempty"`

	NeedsReview bool      `gorm:"not null;default:false" json:"needsReview"`
	Locked      bool      `gorm:"not null;default:false" json:"locked"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Unit) TableName() string {
	return "units"
}

// UnitLite is the projection read when a batch starts.
type UnitLite struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	SourceText string `json:"sourceText"`
	TargetText string `json:"targetText"`
}

// UnitListResponse represents a page of units
type UnitListResponse struct {
	Items    []Unit `json:"items"`
	Total    int64  `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

// SaveUnitRequest represents a direct single-unit save from the editor
type SaveUnitRequest struct {
	TargetText  *string `json:"targetText" validate:"omitempty,max=100000"`
	NeedsReview *bool   `json:"needsReview"`
	Locked      *bool   `json:"locked"`
}

// AdvanceStageRequest moves a unit to another workflow stage
type AdvanceStageRequest struct {
	Stage     TranslationStage `json:"stage" validate:"required"`
	ActorType ActorType        `json:"actorType" validate:"omitempty,oneof=AGENT USER"`
	Model     string           `json:"model" validate:"omitempty,max=128"`
}

// GoBackRequest reverts the most recent record for a stage
type GoBackRequest struct {
	StepKey TranslationStage `json:"stepKey" validate:"required"`
}

// RecordTransitionRequest appends one audit record without moving the unit
type RecordTransitionRequest struct {
	StepKey   TranslationStage `json:"stepKey" validate:"required"`
	ActorType ActorType        `json:"actorType" validate:"omitempty,oneof=AGENT USER"`
	Status    StepStatus       `json:"status" validate:"omitempty,oneof=STARTED SUCCESS FAILED"`
}
