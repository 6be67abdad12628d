package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
)

const (
	docChunkRunes        = 5000
	docChunkOverlap      = 300
	docTermsMaxTokens    = 2000
	DefaultDocumentTerms = 100
	maxDocumentTerms     = 200
)

// DocumentTerms extracts terms across a whole document.
type DocumentTerms struct {
	llm     Completer
	persona persona
}

func NewDocumentTerms(llm Completer) *DocumentTerms {
	return &DocumentTerms{llm: llm, persona: persona{role: "terminology extractor", domain: "terminology", quality: qualityReview}}
}

// Extract runs term extraction over overlapping chunks of texts and merges
// the results. A term keeps its best score and is ranked by score, then by
// how many chunks reported it. Failed chunks are skipped; the call fails only
// when every chunk failed.
func (d *DocumentTerms) Extract(ctx context.Context, texts []string, prompt string, maxTerms int) ([]model.TermCandidate, error) {
	if maxTerms <= 0 {
		maxTerms = DefaultDocumentTerms
	}
	maxTerms = min(maxTerms, maxDocumentTerms)

	chunks := chunkRunes(strings.Join(texts, "\n"), docChunkRunes, docChunkOverlap)
	if len(chunks) == 0 {
		return nil, ErrEmptyInput
	}

	type agg struct {
		term  string
		score float64
		count int
		order int
	}
	merged := map[string]*agg{}
	st := &State{Prompt: prompt}
	var lastErr error
	succeeded := 0

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		terms, err := extractTerms(ctx, d.llm, d.persona, st, chunk, docTermsMaxTokens)
		if err != nil {
			logger.CtxWarn(ctx, "term extraction failed for chunk %d/%d: %v", i+1, len(chunks), err)
			lastErr = err
			continue
		}
		succeeded++
		for _, t := range terms {
			key := strings.ToLower(t.Term)
			score := 0.5
			if t.Score != nil {
				score = *t.Score
			}
			a, ok := merged[key]
			if !ok {
				merged[key] = &agg{term: t.Term, score: score, count: 1, order: len(merged)}
				continue
			}
			a.count++
			a.score = max(a.score, score)
		}
	}
	if succeeded == 0 {
		return nil, lastErr
	}

	list := make([]*agg, 0, len(merged))
	for _, a := range merged {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].order < list[j].order
	})
	if len(list) > maxTerms {
		list = list[:maxTerms]
	}

	out := make([]model.TermCandidate, len(list))
	for i, a := range list {
		score := a.score
		out[i] = model.TermCandidate{Term: a.term, Score: &score}
	}
	return out, nil
}

// Translate proposes translations for glossary terms. Terms keep their input
// order; terms the model skipped come back with an empty translation.
func (d *DocumentTerms) Translate(ctx context.Context, terms []string, sourceLanguage, targetLanguage, domain string) ([]model.DictEntry, error) {
	var unique []string
	seen := map[string]struct{}{}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}
	if len(unique) == 0 {
		return nil, nil
	}

	st := &State{SourceLanguage: sourceLanguage, TargetLanguage: targetLanguage, Domain: domain}
	p := persona{role: "terminology translator", domain: "terminology", quality: qualityReview}
	system := p.system(st, true,
		"Translate each term as it should appear in a professional glossary.",
		"Do not add explanations to translations; put remarks in notes.",
		`Return {"items":[{"term":"...","translation":"...","notes":"..."}]}.`,
	)
	list, _ := json.Marshal(unique)
	user := fmt.Sprintf("Source language: %s\nTarget language: %s\n\nTerms:\n%s\n\nReturn one item per term.",
		languageOrAuto(sourceLanguage), languageOrAuto(targetLanguage), list)

	raw, err := completeJSON(ctx, d.llm, Prompt{System: system, User: user, MaxTokens: docTermsMaxTokens})
	if err != nil {
		return nil, err
	}

	var items []model.DictEntry
	if err := json.Unmarshal(raw, &items); err != nil {
		var wrapped struct {
			Items []model.DictEntry `json:"items"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		items = wrapped.Items
	}

	byTerm := make(map[string]model.DictEntry, len(items))
	for _, it := range items {
		t := strings.TrimSpace(it.Term)
		if _, ok := byTerm[t]; t == "" || ok {
			continue
		}
		byTerm[t] = model.DictEntry{Term: t, Translation: strings.TrimSpace(it.Translation), Notes: strings.TrimSpace(it.Notes)}
	}

	out := make([]model.DictEntry, len(unique))
	for i, t := range unique {
		if e, ok := byTerm[t]; ok {
			out[i] = e
			continue
		}
		out[i] = model.DictEntry{Term: t}
	}
	return out, nil
}

// chunkRunes splits s into windows of size runes that overlap by overlap runes.
func chunkRunes(s string, size, overlap int) []string {
	r := []rune(strings.TrimSpace(s))
	if len(r) == 0 {
		return nil
	}
	if len(r) <= size {
		return []string{string(r)}
	}
	step := size - overlap
	var out []string
	for start := 0; start < len(r); start += step {
		end := min(start+size, len(r))
		out = append(out, string(r[start:end]))
		if end == len(r) {
			break
		}
	}
	return out
}
