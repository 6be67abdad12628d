package model

// Document statuses
type DocumentStatus string

const (
	DocumentWaiting         DocumentStatus = "WAITING"
	DocumentParsing         DocumentStatus = "PARSING"
	DocumentSegmenting      DocumentStatus = "SEGMENTING"
	DocumentTermsExtracting DocumentStatus = "TERMS_EXTRACTING"
	DocumentPreprocessed    DocumentStatus = "PREPROCESSED"
	DocumentTranslating     DocumentStatus = "TRANSLATING"
	DocumentCompleted       DocumentStatus = "COMPLETED"
	DocumentError           DocumentStatus = "ERROR"
)

var ValidDocumentStatuses = []DocumentStatus{
	DocumentWaiting, DocumentParsing, DocumentSegmenting, DocumentTermsExtracting,
	DocumentPreprocessed, DocumentTranslating, DocumentCompleted, DocumentError,
}

// Translation stages (unit workflow)
type TranslationStage string

const (
	StageNotStarted     TranslationStage = "NOT_STARTED"
	StageMT             TranslationStage = "MT"
	StageMTReview       TranslationStage = "MT_REVIEW"
	StageQA             TranslationStage = "QA"
	StageQAReview       TranslationStage = "QA_REVIEW"
	StagePostEdit       TranslationStage = "POST_EDIT"
	StagePostEditReview TranslationStage = "POST_EDIT_REVIEW"
	StageSignOff        TranslationStage = "SIGN_OFF"
	StageCompleted      TranslationStage = "COMPLETED"
	StageError          TranslationStage = "ERROR"
	StageCanceled       TranslationStage = "CANCELED"
)

// StageOrder is the forward workflow order used for "go back" moves.
var StageOrder = []TranslationStage{
	StageNotStarted, StageMT, StageMTReview, StageQA, StageQAReview,
	StagePostEdit, StagePostEditReview, StageSignOff, StageCompleted,
}

// PreviousStage returns the stage before s in StageOrder. The first stage,
// and stages outside the order, return StageNotStarted.
func PreviousStage(s TranslationStage) TranslationStage {
	for i, st := range StageOrder {
		if st == s && i > 0 {
			return StageOrder[i-1]
		}
	}
	return StageNotStarted
}

// IsValidStage reports whether s is a known translation stage.
func IsValidStage(s TranslationStage) bool {
	switch s {
	case StageError, StageCanceled:
		return true
	}
	for _, st := range StageOrder {
		if st == s {
			return true
		}
	}
	return false
}

// Actor types for stage records
type ActorType string

const (
	ActorAgent ActorType = "AGENT"
	ActorUser  ActorType = "USER"
)

// Step statuses for stage records
type StepStatus string

const (
	StepStarted  StepStatus = "STARTED"
	StepSuccess  StepStatus = "SUCCESS"
	StepFailed   StepStatus = "FAILED"
	StepReverted StepStatus = "REVERTED"
)

// Dictionary visibility
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityProject Visibility = "PROJECT"
	VisibilityPrivate Visibility = "PRIVATE"
)

// Phase identifies a per-unit batch phase.
type Phase string

const (
	PhasePreTranslate Phase = "pretranslate"
	PhaseQA           Phase = "qa"
	PhasePostEdit     Phase = "postedit"
)

var ValidPhases = []Phase{PhasePreTranslate, PhaseQA, PhasePostEdit}

// ParsePhase validates a phase name from a route or payload.
func ParsePhase(s string) (Phase, bool) {
	for _, p := range ValidPhases {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Namespace is the key prefix for ephemeral state owned by one phase.
type Namespace string

const (
	NamespacePreTranslate Namespace = "bt."
	NamespaceQA           Namespace = "qa."
	NamespacePostEdit     Namespace = "pe."
	NamespaceSegment      Namespace = "seg."
	NamespaceParse        Namespace = "init."
	NamespaceDocTerms     Namespace = "docTerms."
)

// Namespace returns the progress key prefix for a batch phase.
func (p Phase) Namespace() Namespace {
	switch p {
	case PhaseQA:
		return NamespaceQA
	case PhasePostEdit:
		return NamespacePostEdit
	default:
		return NamespacePreTranslate
	}
}

// TerminalStage is the unit stage written when a phase's results are persisted.
func (p Phase) TerminalStage() TranslationStage {
	switch p {
	case PhaseQA:
		return StageQA
	case PhasePostEdit:
		return StagePostEdit
	default:
		return StageMT
	}
}

// Unit types produced by segmentation
const (
	UnitTypeTitle   = "TITLE"
	UnitTypeText    = "TEXT"
	UnitTypeHeading = "HEADING-"
)
