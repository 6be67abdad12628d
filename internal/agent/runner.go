package agent

import (
	"context"
	"sort"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/model"
)

// Runner owns the stage instances and the three phase chains built from them.
type Runner struct {
	llm    Completer
	stages map[string]Stage
	chains map[model.Phase]Chain
}

// NewRunner wires every stage. glossary and memory may be nil, in which case
// the lookup stages return no hits.
func NewRunner(llm Completer, glossary Glossary, memory TranslationMemory) *Runner {
	termExtract := NewTermExtract(llm)
	dictLookup := NewDictLookup(glossary)
	termEmbed := NewTermEmbedTranslate(llm)
	markers := NewMarkerExtract(llm)
	evaluate := NewSyntaxEvaluate(llm)
	advice := NewAdviceEmbed(llm)
	query := NewDiscourseQuery(memory)
	discourseEval := NewDiscourseEvaluate(llm)
	discourseEmbed := NewDiscourseEmbed(llm)

	r := &Runner{
		llm:    llm,
		stages: map[string]Stage{},
		chains: map[model.Phase]Chain{
			model.PhasePreTranslate: {Phase: model.PhasePreTranslate, Stages: []Stage{termExtract, dictLookup, termEmbed}},
			model.PhaseQA:           {Phase: model.PhaseQA, Stages: []Stage{markers, evaluate, advice}},
			model.PhasePostEdit:     {Phase: model.PhasePostEdit, Stages: []Stage{query, discourseEval, discourseEmbed}},
		},
	}
	for _, c := range r.chains {
		for _, s := range c.Stages {
			r.stages[s.Name()] = s
		}
	}
	return r
}

// Chain returns the chain of a phase.
func (r *Runner) Chain(phase model.Phase) (Chain, bool) {
	c, ok := r.chains[phase]
	return c, ok
}

// RunPhase runs the whole chain of phase against st.
func (r *Runner) RunPhase(ctx context.Context, phase model.Phase, st *State) error {
	c, ok := r.chains[phase]
	if !ok {
		return apperr.Validation("unknown phase %q", phase)
	}
	r.stampModel(st)
	return c.Run(ctx, st)
}

// RunStage runs a single stage by name outside any batch.
func (r *Runner) RunStage(ctx context.Context, name string, st *State) error {
	s, ok := r.stages[name]
	if !ok {
		return apperr.Validation("unknown stage %q", name)
	}
	r.stampModel(st)
	return Chain{Stages: []Stage{s}}.Run(ctx, st)
}

// StageNames lists every stage name in sorted order.
func (r *Runner) StageNames() []string {
	names := make([]string, 0, len(r.stages))
	for n := range r.stages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// modelNamer is implemented by completers that know which model they call.
type modelNamer interface {
	ModelName() string
}

func (r *Runner) stampModel(st *State) {
	if st.Model != "" {
		return
	}
	if n, ok := r.llm.(modelNamer); ok {
		st.Model = n.ModelName()
	}
}
