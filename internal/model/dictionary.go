package model

import "time"

// DictionaryEntry is one glossary term.
type DictionaryEntry struct {
	ID           string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	DictionaryID string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_dict_term,priority:1" json:"dictionaryId"`
	TenantID     string     `gorm:"type:varchar(64);index" json:"tenantId,omitempty"`
	ProjectID    string     `gorm:"type:varchar(64);index" json:"projectId,omitempty"`
	OwnerID      string     `gorm:"type:varchar(64);index" json:"ownerId,omitempty"`
	Visibility   Visibility `gorm:"type:varchar(16);not null;default:'PROJECT'" json:"visibility"`
	Term         string     `gorm:"type:varchar(512);not null;uniqueIndex:idx_dict_term,priority:2" json:"term"`
	Translation  string     `gorm:"type:text" json:"translation"`
	Notes        string     `gorm:"type:text" json:"notes,omitempty"`
	Source       string     `gorm:"type:varchar(128)" json:"source,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (DictionaryEntry) TableName() string {
	return "dictionary_entries"
}

// DictionaryScope selects which glossaries a lookup may read.
type DictionaryScope struct {
	TenantID  string
	ProjectID string
	UserID    string
}

// UpsertCounts reports the outcome of a glossary bulk write.
type UpsertCounts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}
