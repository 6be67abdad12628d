package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/model"
)

// fakeLLM answers by persona role, taken from the "You are a <role>." prefix.
type fakeLLM struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []Prompt
}

func newFakeLLM(replies map[string]string) *fakeLLM {
	return &fakeLLM{replies: replies, errs: map[string]error{}}
}

func (f *fakeLLM) Complete(_ context.Context, p Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	role := roleOf(p.System)
	if err, ok := f.errs[role]; ok {
		return "", err
	}
	reply, ok := f.replies[role]
	if !ok {
		return "", fmt.Errorf("no reply scripted for %q", role)
	}
	return reply, nil
}

func (f *fakeLLM) ModelName() string { return "fake-1" }

func (f *fakeLLM) prompts() []Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Prompt(nil), f.calls...)
}

func roleOf(system string) string {
	s := strings.TrimPrefix(system, "You are a ")
	if i := strings.Index(s, "."); i != -1 {
		return s[:i]
	}
	return s
}

type fakeGlossary struct {
	entries map[string]string
	err     error
	scope   model.DictionaryScope
}

func (g *fakeGlossary) Lookup(_ context.Context, scope model.DictionaryScope, terms []string) ([]model.DictEntry, error) {
	g.scope = scope
	if g.err != nil {
		return nil, g.err
	}
	var out []model.DictEntry
	for _, t := range terms {
		if tr, ok := g.entries[strings.ToLower(t)]; ok {
			out = append(out, model.DictEntry{Term: t, Translation: tr})
		}
	}
	return out, nil
}

type fakeMemory struct {
	hits  []model.MemoryHit
	err   error
	query MemoryQuery
}

func (m *fakeMemory) Search(_ context.Context, q MemoryQuery) ([]model.MemoryHit, error) {
	m.query = q
	return m.hits, m.err
}

func TestPreTranslateChain(t *testing.T) {
	llm := newFakeLLM(map[string]string{
		"terminology extractor":   "```json\n{\"terms\":[{\"term\":\"engine\",\"score\":0.9},{\"term\":\"Engine\"},{\"term\":\" \"},\"turbine\"]}\n```",
		"professional translator": "  Le moteur et la turbine.  ",
	})
	glossary := &fakeGlossary{entries: map[string]string{"engine": "moteur"}}
	r := NewRunner(llm, glossary, nil)

	st := &State{UnitID: "u1", Source: "The engine and the turbine.", UserID: "alice", ProjectID: "p1", TargetLanguage: "fr"}
	require.NoError(t, r.RunPhase(context.Background(), model.PhasePreTranslate, st))

	require.Len(t, st.Terms, 2)
	assert.Equal(t, "engine", st.Terms[0].Term)
	assert.Equal(t, "turbine", st.Terms[1].Term)
	assert.Equal(t, []model.DictEntry{{Term: "engine", Translation: "moteur"}}, st.Dict)
	assert.Equal(t, "Le moteur et la turbine.", st.Translation)
	assert.Equal(t, "fake-1", st.Model)
	assert.Equal(t, model.DictionaryScope{ProjectID: "p1", UserID: "alice"}, glossary.scope)

	calls := llm.prompts()
	require.Len(t, calls, 2)
	assert.Equal(t, termExtractMaxTokens, calls[0].MaxTokens)
	assert.True(t, calls[0].JSON)
	assert.Equal(t, termTranslateMaxTokens, calls[1].MaxTokens)
	assert.False(t, calls[1].JSON)
	assert.Contains(t, calls[1].User, "engine => moteur")
	assert.Contains(t, calls[1].System, "-> fr")

	res := st.Result()
	assert.Equal(t, "u1", res.ID)
	assert.Equal(t, "Le moteur et la turbine.", res.Translation)
}

func TestDictLookupDegradesOnError(t *testing.T) {
	llm := newFakeLLM(map[string]string{
		"terminology extractor":   `{"terms":["engine"]}`,
		"professional translator": "Le moteur.",
	})
	r := NewRunner(llm, &fakeGlossary{err: errors.New("db down")}, nil)

	st := &State{Source: "The engine."}
	require.NoError(t, r.RunPhase(context.Background(), model.PhasePreTranslate, st))
	assert.Empty(t, st.Dict)
	assert.Equal(t, "Le moteur.", st.Translation)
}

func TestChainStopsAtFirstFailure(t *testing.T) {
	llm := newFakeLLM(map[string]string{"terminology extractor": "sorry, I cannot help"})
	r := NewRunner(llm, nil, nil)

	st := &State{Source: "text"}
	err := r.RunPhase(context.Background(), model.PhasePreTranslate, st)
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageTermExtract, se.Stage)
	assert.ErrorIs(t, err, ErrMalformedOutput)
	assert.ErrorIs(t, err, apperr.ErrModel)
	assert.Len(t, llm.prompts(), 1)
	assert.Empty(t, st.Translation)
}

func TestModelFailuresAreTyped(t *testing.T) {
	testCases := []struct {
		name  string
		reply string
		err   error
		want  error
	}{
		{name: "provider error", err: errors.New("502 bad gateway"), want: ErrModelUnavailable},
		{name: "blank reply", reply: "   ", want: ErrEmptyOutput},
		{name: "deadline", err: context.DeadlineExceeded, want: context.DeadlineExceeded},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			llm := newFakeLLM(map[string]string{"professional translator": tc.reply})
			if tc.err != nil {
				llm.errs["professional translator"] = tc.err
			}
			r := NewRunner(llm, nil, nil)
			err := r.RunStage(context.Background(), StageTermEmbedTranslate, &State{Source: "x"})
			assert.ErrorIs(t, err, tc.want)
		})
	}

	err := NewRunner(nil, nil, nil).RunStage(context.Background(), StageTermEmbedTranslate, &State{Source: "x"})
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestQAChain(t *testing.T) {
	llm := newFakeLLM(map[string]string{
		"bilingual syntax analyst": `{"markers":[{"source":"but","target":"mais","type":"connector","aligned":true}],"quality":"good"}`,
		"syntax evaluator":         `Here you go: {"score":70,"issues":[{"type":"GRAMMAR","span":"ils était","advice":"use était -> étaient"},{"type":"STYLE"}]}`,
		"post-editor":              "Ils étaient là, mais partis.",
	})
	r := NewRunner(llm, nil, nil)

	st := &State{Source: "They were there, but gone.", Target: "Ils était là, mais partis."}
	require.NoError(t, r.RunPhase(context.Background(), model.PhaseQA, st))

	assert.JSONEq(t, `{"markers":[{"source":"but","target":"mais","type":"connector","aligned":true}],"quality":"good"}`, string(st.Markers))
	require.Len(t, st.Issues, 1, "issues without span or advice are dropped")
	assert.Equal(t, "GRAMMAR", st.Issues[0].Type)
	assert.Equal(t, "Ils étaient là, mais partis.", st.Revised)

	calls := llm.prompts()
	require.Len(t, calls, 3)
	assert.Equal(t, markerMaxTokens, calls[0].MaxTokens)
	assert.Equal(t, evaluateMaxTokens, calls[1].MaxTokens)
	assert.Equal(t, adviceMaxTokens, calls[2].MaxTokens)
	assert.Contains(t, calls[2].User, "#1 [GRAMMAR] ils était | use était -> étaient")
}

func TestQAChainWithoutIssuesKeepsTarget(t *testing.T) {
	llm := newFakeLLM(map[string]string{
		"bilingual syntax analyst": `{"markers":[]}`,
		"syntax evaluator":         `{"score":98,"issues":[]}`,
	})
	r := NewRunner(llm, nil, nil)

	st := &State{Source: "Hello.", Target: "Bonjour."}
	require.NoError(t, r.RunPhase(context.Background(), model.PhaseQA, st))
	assert.Equal(t, "Bonjour.", st.Revised)
	assert.Len(t, llm.prompts(), 2)
}

func TestQAUsesFreshTranslationWhenTargetBlank(t *testing.T) {
	llm := newFakeLLM(map[string]string{"bilingual syntax analyst": `{"markers":[]}`})
	st := &State{Source: "Hello.", Translation: "Bonjour."}
	require.NoError(t, NewMarkerExtract(llm).Execute(context.Background(), st))
	assert.Contains(t, llm.prompts()[0].User, "Target text:\nBonjour.")
}

func TestEmptyInput(t *testing.T) {
	llm := newFakeLLM(nil)
	r := NewRunner(llm, nil, nil)
	ctx := context.Background()

	testCases := []struct {
		stage string
		state State
	}{
		{StageTermExtract, State{Source: "  "}},
		{StageTermEmbedTranslate, State{}},
		{StageMarkerExtract, State{Source: "a"}},
		{StageSyntaxEvaluate, State{Target: "b"}},
		{StageAdviceEmbed, State{Source: "a", Target: " "}},
		{StageDiscourseQuery, State{}},
		{StageDiscourseEmbed, State{Source: "a"}},
	}
	for _, tc := range testCases {
		t.Run(tc.stage, func(t *testing.T) {
			st := tc.state
			err := r.RunStage(ctx, tc.stage, &st)
			assert.ErrorIs(t, err, ErrEmptyInput)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Empty(t, llm.prompts())
}

func TestPostEditChain(t *testing.T) {
	memory := &fakeMemory{hits: []model.MemoryHit{
		{ID: "m1", Source: "The engine.", Target: "Le moteur.", Score: 0.92},
		{ID: "m2", Source: "Noise.", Target: "Bruit.", Score: 0.2},
	}}
	llm := newFakeLLM(map[string]string{
		"discourse consistency evaluator": `{"overall":80,"recommendations":["use moteur"]}`,
		"post-editor":                     "Le moteur tourne.",
	})
	r := NewRunner(llm, nil, memory)

	st := &State{UnitID: "u9", Source: "The engine runs.", Target: "La machine tourne.", TenantID: "t1", TargetLanguage: "fr"}
	require.NoError(t, r.RunPhase(context.Background(), model.PhasePostEdit, st))

	require.Len(t, st.Hits, 1)
	assert.Equal(t, "m1", st.Hits[0].ID)
	assert.Equal(t, MemoryQuery{Text: "The engine runs.", TenantID: "t1", TargetLanguage: "fr", ExcludeUnitID: "u9", Limit: 5, MinScore: 0.4}, memory.query)
	assert.JSONEq(t, `{"overall":80,"recommendations":["use moteur"]}`, string(st.DiscourseEval))
	assert.Equal(t, "Le moteur tourne.", st.Rewrite)

	calls := llm.prompts()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].User, "Similarity: 92%")
	assert.Equal(t, discourseEvalTokens, calls[0].MaxTokens)
	assert.Equal(t, discourseEmbedTokens, calls[1].MaxTokens)
}

func TestPostEditWithoutReferencesKeepsTarget(t *testing.T) {
	llm := newFakeLLM(map[string]string{"discourse consistency evaluator": `{"overall":60}`})
	r := NewRunner(llm, nil, &fakeMemory{err: errors.New("qdrant unavailable")})

	st := &State{Source: "The engine runs.", Target: "La machine tourne."}
	require.NoError(t, r.RunPhase(context.Background(), model.PhasePostEdit, st))
	assert.Empty(t, st.Hits)
	assert.Equal(t, "La machine tourne.", st.Rewrite)

	calls := llm.prompts()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].User, "No reference segments are available")
}

func TestRunStageUnknown(t *testing.T) {
	r := NewRunner(nil, nil, nil)
	err := r.RunStage(context.Background(), "translate-everything", &State{Source: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = r.RunPhase(context.Background(), model.Phase("review"), &State{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Equal(t, []string{
		StageDictLookup, StageDiscourseEmbed, StageDiscourseEvaluate, StageDiscourseQuery,
		StageAdviceEmbed, StageSyntaxEvaluate, StageMarkerExtract, StageTermEmbedTranslate, StageTermExtract,
	}, r.StageNames())
}

func TestChainHonoursCancellation(t *testing.T) {
	llm := newFakeLLM(map[string]string{"terminology extractor": `{"terms":[]}`})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRunner(llm, nil, nil).RunPhase(ctx, model.PhasePreTranslate, &State{Source: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, llm.prompts())
}

func TestExtractJSON(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "plain object", in: `{"a":1}`, want: `{"a":1}`, ok: true},
		{name: "fenced", in: "```json\n[1,2]\n```", want: `[1,2]`, ok: true},
		{name: "prose around", in: `Sure! {"a":{"b":2}} hope it helps`, want: `{"a":{"b":2}}`, ok: true},
		{name: "array in prose", in: `terms: ["x","y"].`, want: `["x","y"]`, ok: true},
		{name: "no json", in: `nothing here`, ok: false},
		{name: "broken", in: `{"a":`, ok: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.JSONEq(t, tc.want, string(got))
			}
		})
	}
}

func TestGlossaryBlockCapsEntries(t *testing.T) {
	dict := make([]model.DictEntry, 0, 250)
	dict = append(dict, model.DictEntry{Term: "skip", Translation: ""})
	for i := 0; i < 250; i++ {
		dict = append(dict, model.DictEntry{Term: fmt.Sprintf("t%d", i), Translation: fmt.Sprintf("u%d", i)})
	}
	block := glossaryBlock(dict)
	lines := strings.Split(block, "\n")
	assert.Len(t, lines, 1+glossaryLimit)
	assert.Equal(t, "t0 => u0", lines[1])
	assert.NotContains(t, block, "skip")
	assert.Empty(t, glossaryBlock(nil))
}

func TestDocumentTermsExtract(t *testing.T) {
	llm := newFakeLLM(map[string]string{
		"terminology extractor": `{"terms":[{"term":"Turbine","score":0.4},{"term":"rotor","score":0.9},{"term":"blade"}]}`,
	})
	d := NewDocumentTerms(llm)

	long := strings.Repeat("a", docChunkRunes+100)
	terms, err := d.Extract(context.Background(), []string{long}, "aviation", 2)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "rotor", terms[0].Term)
	assert.InDelta(t, 0.9, *terms[0].Score, 1e-9)
	assert.Equal(t, "blade", terms[1].Term, "unscored terms rank at 0.5")

	calls := llm.prompts()
	assert.Len(t, calls, 2)
	assert.Contains(t, calls[0].User, "User preference: aviation")

	_, err = d.Extract(context.Background(), []string{" ", ""}, "", 0)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestDocumentTermsTranslate(t *testing.T) {
	llm := newFakeLLM(map[string]string{
		"terminology translator": `{"items":[{"term":"rotor","translation":"rotor"},{"term":"blade","translation":" pale ","notes":"aero"}]}`,
	})
	d := NewDocumentTerms(llm)

	out, err := d.Translate(context.Background(), []string{"blade", "hub", "blade", "rotor", " "}, "en", "fr", "")
	require.NoError(t, err)
	assert.Equal(t, []model.DictEntry{
		{Term: "blade", Translation: "pale", Notes: "aero"},
		{Term: "hub"},
		{Term: "rotor", Translation: "rotor"},
	}, out)
}

func TestChunkRunes(t *testing.T) {
	assert.Nil(t, chunkRunes("  ", 10, 2))
	assert.Equal(t, []string{"abc"}, chunkRunes("abc", 10, 2))
	assert.Equal(t, []string{"abcde", "defgh", "ghij"}, chunkRunes("abcdefghij", 5, 2))
}
