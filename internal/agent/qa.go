package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/transflow/api/internal/model"
)

// Stage names
const (
	StageMarkerExtract  = "syntax-marker-extract"
	StageSyntaxEvaluate = "syntax-evaluate"
	StageAdviceEmbed    = "syntax-advice-embed"
)

const (
	markerMaxTokens   = 900
	evaluateMaxTokens = 900
	adviceMaxTokens   = 1200
)

func requireBilingual(st *State) error {
	if strings.TrimSpace(st.Source) == "" || strings.TrimSpace(st.CurrentTarget()) == "" {
		return ErrEmptyInput
	}
	return nil
}

func bilingualBlock(st *State) string {
	return "Source text:\n" + st.Source + "\n\nTarget text:\n" + st.CurrentTarget()
}

// MarkerExtract aligns syntactic markers (connectors, negations, modals)
// between source and target.
type MarkerExtract struct {
	llm     Completer
	persona persona
}

func NewMarkerExtract(llm Completer) *MarkerExtract {
	return &MarkerExtract{llm: llm, persona: persona{role: "bilingual syntax analyst", domain: "linguistics", quality: qualityReview}}
}

func (s *MarkerExtract) Name() string { return StageMarkerExtract }

func (s *MarkerExtract) Execute(ctx context.Context, st *State) error {
	if err := requireBilingual(st); err != nil {
		return err
	}
	system := s.persona.system(st, true,
		`Return {"markers":[{"source":"...","target":"...","type":"...","aligned":true}],"quality":"good|fair|poor"}.`,
		"Marker types: connector, negation, modal, tense, quantifier, reference.",
		"Align each source marker with its target counterpart, or leave target empty when it was dropped.",
		"Pay special attention to logical connectors.",
	)
	user := userPreference(st.Prompt) + bilingualBlock(st) +
		"\n\nIdentify the syntactic markers, establish their correspondence and annotate any mismatch."

	raw, err := completeJSON(ctx, s.llm, Prompt{System: system, User: user, MaxTokens: markerMaxTokens})
	if err != nil {
		return err
	}
	st.Markers = raw
	return nil
}

// SyntaxEvaluate lists concrete syntax issues of the translation.
type SyntaxEvaluate struct {
	llm     Completer
	persona persona
}

func NewSyntaxEvaluate(llm Completer) *SyntaxEvaluate {
	return &SyntaxEvaluate{llm: llm, persona: persona{role: "syntax evaluator", domain: "linguistics", quality: qualityReview}}
}

func (s *SyntaxEvaluate) Name() string { return StageSyntaxEvaluate }

func (s *SyntaxEvaluate) Execute(ctx context.Context, st *State) error {
	if err := requireBilingual(st); err != nil {
		return err
	}
	system := s.persona.system(st, true,
		`Return {"score":0-100,"issues":[{"type":"...","span":"...","advice":"..."}]}.`,
		"type is one of GRAMMAR, WORD_ORDER, AGREEMENT, OMISSION, ADDITION, PUNCTUATION, STYLE.",
		"span quotes the offending part of the target text. Return an empty issues list when the translation is fine.",
	)

	var user strings.Builder
	user.WriteString(userPreference(st.Prompt))
	user.WriteString("Target language: " + valueOr(st.TargetLanguage, "unspecified") + "\n")
	user.WriteString("Domain: " + valueOr(st.Domain, "general") + "\n\n")
	user.WriteString(bilingualBlock(st))
	user.WriteString("\n\nFocus on sentence structure, agreement and word order.")

	raw, err := completeJSON(ctx, s.llm, Prompt{System: system, User: user.String(), MaxTokens: evaluateMaxTokens})
	if err != nil {
		return err
	}
	st.Evaluation = raw
	st.Issues = parseIssues(raw)
	return nil
}

// parseIssues reads {"issues":[...]} or a bare issue array. Anything else
// yields no issues.
func parseIssues(raw json.RawMessage) []model.Issue {
	var issues []model.Issue
	if err := json.Unmarshal(raw, &issues); err != nil {
		var wrapped struct {
			Issues []model.Issue `json:"issues"`
		}
		if json.Unmarshal(raw, &wrapped) != nil {
			return nil
		}
		issues = wrapped.Issues
	}
	out := issues[:0]
	for _, is := range issues {
		if strings.TrimSpace(is.Advice) == "" && strings.TrimSpace(is.Span) == "" {
			continue
		}
		out = append(out, is)
	}
	return out
}

// AdviceEmbed applies QA advice with minimal edits.
type AdviceEmbed struct {
	llm     Completer
	persona persona
}

func NewAdviceEmbed(llm Completer) *AdviceEmbed {
	return &AdviceEmbed{llm: llm, persona: persona{role: "post-editor", domain: "linguistics", quality: qualityFinal}}
}

func (s *AdviceEmbed) Name() string { return StageAdviceEmbed }

func (s *AdviceEmbed) Execute(ctx context.Context, st *State) error {
	if err := requireBilingual(st); err != nil {
		return err
	}
	if len(st.Issues) == 0 {
		st.Revised = st.CurrentTarget()
		return nil
	}
	system := s.persona.system(st, false,
		"Revise the translation with the smallest edits that resolve the listed issues.",
		"Preserve the meaning of the source text.",
	)
	user := userPreference(st.Prompt) +
		"Source text:\n" + st.Source +
		"\n\nCurrent translation:\n" + st.CurrentTarget() +
		"\n\nSuggestions to apply:\n" + formatIssues(st.Issues) +
		"\n\nOutput the revised translation."

	out, err := complete(ctx, s.llm, Prompt{System: system, User: user, MaxTokens: adviceMaxTokens})
	if err != nil {
		return err
	}
	st.Revised = out
	return nil
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
