package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
)

// Stage names
const (
	StageTermExtract        = "term-extract"
	StageDictLookup         = "dict-lookup"
	StageTermEmbedTranslate = "term-embed-translate"
)

const (
	termExtractMaxTokens   = 800
	termTranslateMaxTokens = 2000
)

// Glossary resolves terms against the glossaries visible to a scope.
type Glossary interface {
	Lookup(ctx context.Context, scope model.DictionaryScope, terms []string) ([]model.DictEntry, error)
}

// TermExtract finds domain terms in the source text.
type TermExtract struct {
	llm     Completer
	persona persona
}

func NewTermExtract(llm Completer) *TermExtract {
	return &TermExtract{llm: llm, persona: persona{role: "terminology extractor", quality: qualityReview}}
}

func (s *TermExtract) Name() string { return StageTermExtract }

func (s *TermExtract) Execute(ctx context.Context, st *State) error {
	if strings.TrimSpace(st.Source) == "" {
		return ErrEmptyInput
	}
	terms, err := extractTerms(ctx, s.llm, s.persona, st, st.Source, termExtractMaxTokens)
	if err != nil {
		return err
	}
	st.Terms = terms
	return nil
}

func extractTerms(ctx context.Context, llm Completer, p persona, st *State, text string, maxTokens int) ([]model.TermCandidate, error) {
	system := p.system(st, true,
		`Return {"terms":[{"term":"...","score":0.0}]} where score is the term's importance between 0 and 1.`,
		"Only include domain terms, names and fixed expressions worth keeping consistent. Skip common words.",
		"Copy each term exactly as it appears in the text.",
	)
	user := userPreference(st.Prompt) + "Text to process:\n" + text

	raw, err := completeJSON(ctx, llm, Prompt{System: system, User: user, MaxTokens: maxTokens})
	if err != nil {
		return nil, err
	}
	return parseTerms(raw)
}

// parseTerms accepts {"terms":[...]} or a bare array whose elements are
// either objects with a term field or plain strings.
func parseTerms(raw json.RawMessage) ([]model.TermCandidate, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		var wrapped struct {
			Terms []json.RawMessage `json:"terms"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		list = wrapped.Terms
	}

	seen := make(map[string]struct{}, len(list))
	out := make([]model.TermCandidate, 0, len(list))
	for _, item := range list {
		var tc model.TermCandidate
		if err := json.Unmarshal(item, &tc); err != nil {
			var plain string
			if json.Unmarshal(item, &plain) != nil {
				continue
			}
			tc.Term = plain
		}
		tc.Term = strings.TrimSpace(tc.Term)
		if tc.Term == "" {
			continue
		}
		key := strings.ToLower(tc.Term)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if tc.Score != nil {
			v := min(1, max(0, *tc.Score))
			tc.Score = &v
		}
		out = append(out, tc)
	}
	return out, nil
}

// DictLookup resolves extracted terms in the glossary. Lookup failures
// degrade to an empty hit list.
type DictLookup struct {
	glossary Glossary
}

func NewDictLookup(glossary Glossary) *DictLookup {
	return &DictLookup{glossary: glossary}
}

func (s *DictLookup) Name() string { return StageDictLookup }

func (s *DictLookup) Execute(ctx context.Context, st *State) error {
	st.Dict = nil
	if s.glossary == nil || len(st.Terms) == 0 {
		return nil
	}
	terms := make([]string, len(st.Terms))
	for i, t := range st.Terms {
		terms[i] = t.Term
	}
	hits, err := s.glossary.Lookup(ctx, st.scope(), terms)
	if err != nil {
		logger.CtxWarn(ctx, "dictionary lookup failed, continuing without glossary: %v", err)
		return nil
	}
	st.Dict = hits
	return nil
}

// TermEmbedTranslate translates the source while applying glossary hits.
type TermEmbedTranslate struct {
	llm     Completer
	persona persona
}

func NewTermEmbedTranslate(llm Completer) *TermEmbedTranslate {
	return &TermEmbedTranslate{llm: llm, persona: persona{role: "professional translator", quality: qualityFinal}}
}

func (s *TermEmbedTranslate) Name() string { return StageTermEmbedTranslate }

func (s *TermEmbedTranslate) Execute(ctx context.Context, st *State) error {
	if strings.TrimSpace(st.Source) == "" {
		return ErrEmptyInput
	}
	system := s.persona.system(st, false,
		"Apply every glossary entry exactly as given.",
		"Do not reword or inflect glossary translations.",
		"Keep placeholders, numbers and inline markers unchanged.",
	)

	var user strings.Builder
	if g := glossaryBlock(st.Dict); g != "" {
		user.WriteString(g)
		user.WriteString("\n\n")
	}
	user.WriteString(userPreference(st.Prompt))
	user.WriteString("Text to translate:\n")
	user.WriteString(st.Source)

	out, err := complete(ctx, s.llm, Prompt{System: system, User: user.String(), MaxTokens: termTranslateMaxTokens})
	if err != nil {
		return err
	}
	st.Translation = out
	return nil
}
