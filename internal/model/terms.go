package model

// TermCandidate is a term found by monolingual extraction.
type TermCandidate struct {
	Term  string   `json:"term"`
	Score *float64 `json:"score,omitempty"`
}

// DictEntry is a resolved glossary hit used by translation.
type DictEntry struct {
	Term         string `json:"term" validate:"required"`
	Translation  string `json:"translation"`
	Notes        string `json:"notes,omitempty"`
	Source       string `json:"source,omitempty"`
	DictionaryID string `json:"dictionaryId,omitempty"`
	ID           string `json:"id,omitempty"`
}

// Issue is one QA finding.
type Issue struct {
	Type   string `json:"type"`
	Span   string `json:"span,omitempty"`
	Advice string `json:"advice,omitempty"`
}

// MemoryHit is a similar prior translation from translation memory.
type MemoryHit struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Target string  `json:"target"`
	Score  float64 `json:"score"`
}

// Document term extraction statuses
const (
	TermsRunning = "running"
	TermsDone    = "done"
	TermsFailed  = "failed"
)

// TermsJobStatus is stored next to a document terms artifact.
type TermsJobStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
