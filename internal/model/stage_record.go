package model

import (
	"time"

	"gorm.io/datatypes"
)

// StageRecord is one append-only entry of a unit's workflow audit trail.
type StageRecord struct {
	ID         string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	UnitID     *string          `gorm:"type:varchar(36);index" json:"unitId,omitempty"`
	DocumentID string           `gorm:"type:varchar(36);index" json:"documentId,omitempty"`
	StepKey    TranslationStage `gorm:"type:varchar(32);not null" json:"stepKey"`
	ActorType  ActorType        `gorm:"type:varchar(16);not null;default:'AGENT'" json:"actorType"`
	ActorID    string           `gorm:"type:varchar(64)" json:"actorId,omitempty"`
	Model      string           `gorm:"type:varchar(128)" json:"model,omitempty"`
	Status     StepStatus       `gorm:"type:varchar(16);not null;default:'SUCCESS'" json:"status"`
	RevertsID  string           `gorm:"type:varchar(36)" json:"revertsId,omitempty"`
	Metadata   datatypes.JSON   `json:"metadata,omitempty"`
	CreatedAt  time.Time        `gorm:"index" json:"createdAt"`
	FinishedAt *time.Time       `json:"finishedAt,omitempty"`
}

func (StageRecord) TableName() string {
	return "stage_records"
}

// TransitionListResponse represents the audit trail of one unit
type TransitionListResponse struct {
	UnitID  string        `json:"unitId"`
	Records []StageRecord `json:"records"`
}
