package model

// AgentRunRequest invokes one pipeline stage outside a batch
type AgentRunRequest struct {
	Source         string          `json:"source" validate:"required,min=1"`
	Target         string          `json:"target"`
	Prompt         string          `json:"prompt" validate:"omitempty,max=2000"`
	SourceLanguage string          `json:"sourceLanguage" validate:"omitempty,max=16"`
	TargetLanguage string          `json:"targetLanguage" validate:"omitempty,max=16"`
	Domain         string          `json:"domain" validate:"omitempty,max=64"`
	Terms          []TermCandidate `json:"terms"`
	Dict           []DictEntry     `json:"dict"`
	Issues         []Issue         `json:"issues"`
	Hits           []MemoryHit     `json:"hits"`
}

// AgentRunResponse carries the state after the stage ran
type AgentRunResponse struct {
	Stage  string     `json:"stage"`
	Result UnitResult `json:"result"`
	Issues []Issue    `json:"issues,omitempty"`
}
