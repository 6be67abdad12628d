package model

import "encoding/json"

// BatchOptions are per-batch pipeline options forwarded to every unit job
type BatchOptions struct {
	SourceLanguage string `json:"sourceLanguage" validate:"omitempty,max=16"`
	TargetLanguage string `json:"targetLanguage" validate:"omitempty,max=16"`
	Domain         string `json:"domain" validate:"omitempty,max=64"`
	Prompt         string `json:"prompt" validate:"omitempty,max=2000"`
}

// BatchStartRequest represents the request body for starting a batch
type BatchStartRequest struct {
	BatchID   string       `json:"batchId" validate:"omitempty,max=128"`
	ItemIDs   []string     `json:"itemIds" validate:"required,min=1,dive,required"`
	ProjectID string       `json:"projectId" validate:"omitempty,max=64"`
	Options   BatchOptions `json:"options"`
}

// BatchStartResponse represents the response for starting a batch
type BatchStartResponse struct {
	BatchID string `json:"batchId"`
	Total   int64  `json:"total"`
}

// BatchRef identifies an existing batch
type BatchRef struct {
	BatchID string `json:"batchId" validate:"required,max=128"`
}

// BatchProgress represents the progress of a batch
type BatchProgress struct {
	BatchID  string `json:"batchId,omitempty"`
	Total    int64  `json:"total"`
	Done     int64  `json:"done"`
	Failed   int64  `json:"failed"`
	Percent  int    `json:"percent"`
	Canceled bool   `json:"canceled,omitempty"`
}

// BatchCancelResponse represents the response for cancelling a batch
type BatchCancelResponse struct {
	OK bool `json:"ok"`
}

// BatchPersistResponse represents the response for persisting a batch
type BatchPersistResponse struct {
	Updated int `json:"updated"`
}

// UnitJobPayload is the queue payload for one unit of a batch.
type UnitJobPayload struct {
	Phase          Phase  `json:"phase"`
	BatchID        string `json:"batchId"`
	ID             string `json:"id"`
	Text           string `json:"text"`
	Target         string `json:"target,omitempty"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
	Domain         string `json:"domain,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	UserID         string `json:"userId,omitempty"`
	TenantID       string `json:"tenantId,omitempty"`
	ProjectID      string `json:"projectId,omitempty"`
}

// UnitResult is the ephemeral per-unit result blob of a batch phase.
type UnitResult struct {
	ID          string          `json:"id"`
	Translation string          `json:"translation,omitempty"`
	Terms       []TermCandidate `json:"terms,omitempty"`
	Dict        []DictEntry     `json:"dict,omitempty"`

	Markers    json.RawMessage `json:"markers,omitempty"`
	Evaluation json.RawMessage `json:"evaluation,omitempty"`
	Revised    string          `json:"revised,omitempty"`

	Hits          []MemoryHit     `json:"hits,omitempty"`
	DiscourseEval json.RawMessage `json:"discourseEval,omitempty"`
	Rewrite       string          `json:"rewrite,omitempty"`

	Model string `json:"model,omitempty"`

	// Scope the result was produced under; carried into translation memory.
	TenantID       string `json:"tenantId,omitempty"`
	ProjectID      string `json:"projectId,omitempty"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

// MemoryPair is one persisted source/target pair for translation memory.
type MemoryPair struct {
	UnitID         string
	DocumentID     string
	TenantID       string
	ProjectID      string
	Source         string
	Target         string
	SourceLanguage string
	TargetLanguage string
}

// DocumentTermsPayload is the queue payload for document term extraction.
type DocumentTermsPayload struct {
	BatchID    string `json:"batchId"`
	DocumentID string `json:"documentId"`
	Prompt     string `json:"prompt,omitempty"`
	UserID     string `json:"userId,omitempty"`
}
