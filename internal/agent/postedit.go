package agent

import (
	"context"
	"strings"

	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
)

// Stage names
const (
	StageDiscourseQuery    = "discourse-query"
	StageDiscourseEvaluate = "discourse-evaluate"
	StageDiscourseEmbed    = "discourse-embed"
)

const (
	discourseHitLimit    = 5
	discourseMinScore    = 0.4
	discourseEvalTokens  = 1200
	discourseEmbedTokens = 800
)

// MemoryQuery is a translation memory similarity search.
type MemoryQuery struct {
	Text           string
	TenantID       string
	TargetLanguage string
	ExcludeUnitID  string
	Limit          int
	MinScore       float64
}

// TranslationMemory finds similar prior translations.
type TranslationMemory interface {
	Search(ctx context.Context, q MemoryQuery) ([]model.MemoryHit, error)
}

// DiscourseQuery fetches reference translations from translation memory.
// Search failures degrade to no references.
type DiscourseQuery struct {
	memory TranslationMemory
}

func NewDiscourseQuery(memory TranslationMemory) *DiscourseQuery {
	return &DiscourseQuery{memory: memory}
}

func (s *DiscourseQuery) Name() string { return StageDiscourseQuery }

func (s *DiscourseQuery) Execute(ctx context.Context, st *State) error {
	if strings.TrimSpace(st.Source) == "" {
		return ErrEmptyInput
	}
	st.Hits = nil
	if s.memory == nil {
		return nil
	}
	hits, err := s.memory.Search(ctx, MemoryQuery{
		Text:           st.Source,
		TenantID:       st.TenantID,
		TargetLanguage: st.TargetLanguage,
		ExcludeUnitID:  st.UnitID,
		Limit:          discourseHitLimit,
		MinScore:       discourseMinScore,
	})
	if err != nil {
		logger.CtxWarn(ctx, "translation memory search failed, continuing without references: %v", err)
		return nil
	}
	for _, h := range hits {
		if h.Score < discourseMinScore {
			continue
		}
		st.Hits = append(st.Hits, h)
		if len(st.Hits) == discourseHitLimit {
			break
		}
	}
	return nil
}

// DiscourseEvaluate scores the translation against the references for
// style, terminology and word choice consistency.
type DiscourseEvaluate struct {
	llm     Completer
	persona persona
}

func NewDiscourseEvaluate(llm Completer) *DiscourseEvaluate {
	return &DiscourseEvaluate{llm: llm, persona: persona{role: "discourse consistency evaluator", domain: "discourse", quality: qualityReview}}
}

func (s *DiscourseEvaluate) Name() string { return StageDiscourseEvaluate }

func (s *DiscourseEvaluate) Execute(ctx context.Context, st *State) error {
	if err := requireBilingual(st); err != nil {
		return err
	}
	system := s.persona.system(st, true,
		"Evaluate style consistency, terminology consistency and word choice accuracy.",
		`Return {"styleMatch":0-100,"styleComments":"...","consistency":0-100,"consistencyComments":"...","wordChoice":0-100,"wordChoiceComments":"...","overall":0-100,"recommendations":["..."]}.`,
	)

	var user string
	task := "Current segment:\nSource: " + st.Source + "\nTarget: " + st.CurrentTarget()
	if len(st.Hits) == 0 {
		user = task + "\n\nNo reference segments are available. Evaluate the translation on its own merits."
	} else {
		user = "Reference segments:\n" + formatReferences(st.Hits) + "\n\n" + task +
			"\n\nCompare the current segment with the references and evaluate its consistency."
	}

	raw, err := completeJSON(ctx, s.llm, Prompt{System: system, User: user, MaxTokens: discourseEvalTokens})
	if err != nil {
		return err
	}
	st.DiscourseEval = raw
	return nil
}

// DiscourseEmbed rewrites the translation in the style of the references.
// Without references the target is kept as is.
type DiscourseEmbed struct {
	llm     Completer
	persona persona
}

func NewDiscourseEmbed(llm Completer) *DiscourseEmbed {
	return &DiscourseEmbed{llm: llm, persona: persona{role: "post-editor", domain: "discourse", quality: qualityFinal}}
}

func (s *DiscourseEmbed) Name() string { return StageDiscourseEmbed }

func (s *DiscourseEmbed) Execute(ctx context.Context, st *State) error {
	if err := requireBilingual(st); err != nil {
		return err
	}
	if len(st.Hits) == 0 {
		st.Rewrite = st.CurrentTarget()
		return nil
	}
	system := s.persona.system(st, false,
		"Learn the style and terminology of the reference translations.",
		"Fix inconsistencies with the smallest possible changes.",
		"Never change the meaning of the source text.",
		"Output only the optimised translation.",
	)
	user := userPreference(st.Prompt) +
		"Reference translations:\n" + formatReferences(st.Hits) +
		"\n\nSource text:\n" + st.Source +
		"\n\nCurrent translation:\n" + st.CurrentTarget() +
		"\n\nRewrite the current translation so it reads naturally and matches the references."

	out, err := complete(ctx, s.llm, Prompt{System: system, User: user, MaxTokens: discourseEmbedTokens})
	if err != nil {
		return err
	}
	st.Rewrite = out
	return nil
}
