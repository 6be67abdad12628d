// Package agent runs the per-unit translation stages: pre-translate, QA and
// post-edit chains built from small LLM-backed stages. Stages only read and
// write a State; persisting results is the caller's job.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/model"
)

var (
	ErrModelUnavailable = fmt.Errorf("%w: model unavailable", apperr.ErrModel)
	ErrEmptyOutput      = fmt.Errorf("%w: empty output", apperr.ErrModel)
	ErrMalformedOutput  = fmt.Errorf("%w: malformed output", apperr.ErrModel)
	ErrEmptyInput       = fmt.Errorf("%w: empty input", apperr.ErrValidation)
)

// Prompt is one chat completion request.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
	JSON      bool // ask for a JSON object response
}

// Completer is the language model port.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// State is the working set of one unit passing through a chain. Each stage
// reads its predecessor's slot and fills its own.
type State struct {
	UnitID         string
	Source         string
	Target         string
	Prompt         string
	SourceLanguage string
	TargetLanguage string
	Domain         string
	TenantID       string
	UserID         string
	ProjectID      string

	// pre-translate
	Terms       []model.TermCandidate
	Dict        []model.DictEntry
	Translation string

	// qa
	Markers    json.RawMessage
	Evaluation json.RawMessage
	Issues     []model.Issue
	Revised    string

	// post-edit
	Hits          []model.MemoryHit
	DiscourseEval json.RawMessage
	Rewrite       string

	Model string
}

// CurrentTarget is the translation later stages work on: the stored target,
// else the one produced earlier in this run.
func (s *State) CurrentTarget() string {
	if strings.TrimSpace(s.Target) != "" {
		return s.Target
	}
	return s.Translation
}

// Result copies the slots of s into a per-unit result blob.
func (s *State) Result() model.UnitResult {
	return model.UnitResult{
		ID:            s.UnitID,
		Translation:   s.Translation,
		Terms:         s.Terms,
		Dict:          s.Dict,
		Markers:       s.Markers,
		Evaluation:    s.Evaluation,
		Revised:       s.Revised,
		Hits:          s.Hits,
		DiscourseEval: s.DiscourseEval,
		Rewrite:       s.Rewrite,
		Model:         s.Model,

		TenantID:       s.TenantID,
		ProjectID:      s.ProjectID,
		SourceLanguage: s.SourceLanguage,
		TargetLanguage: s.TargetLanguage,
	}
}

func (s *State) scope() model.DictionaryScope {
	return model.DictionaryScope{TenantID: s.TenantID, ProjectID: s.ProjectID, UserID: s.UserID}
}

// Stage is one step of a chain.
type Stage interface {
	Name() string
	Execute(ctx context.Context, st *State) error
}

// StageError reports which stage of a chain failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Chain runs stages in order and stops at the first failure.
type Chain struct {
	Phase  model.Phase
	Stages []Stage
}

// Run executes every stage against st. A failure comes back as *StageError.
func (c Chain) Run(ctx context.Context, st *State) error {
	for _, stage := range c.Stages {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: stage.Name(), Err: err}
		}
		if err := stage.Execute(ctx, st); err != nil {
			var se *StageError
			if errors.As(err, &se) {
				return err
			}
			return &StageError{Stage: stage.Name(), Err: err}
		}
	}
	return nil
}

func complete(ctx context.Context, llm Completer, p Prompt) (string, error) {
	if llm == nil {
		return "", ErrModelUnavailable
	}
	out, err := llm.Complete(ctx, p)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, apperr.ErrModel) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}

// completeJSON calls the model in JSON mode and returns the first JSON value
// found in the reply.
func completeJSON(ctx context.Context, llm Completer, p Prompt) (json.RawMessage, error) {
	p.JSON = true
	out, err := complete(ctx, llm, p)
	if err != nil {
		return nil, err
	}
	raw, ok := extractJSON(out)
	if !ok {
		return nil, fmt.Errorf("%w: %.80q", ErrMalformedOutput, out)
	}
	return raw, nil
}

// extractJSON strips a markdown fence if present, then returns the text
// from the first opening bracket to the last matching closing one.
func extractJSON(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i != -1 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		if j := strings.Index(rest, "```"); j != -1 {
			s = strings.TrimSpace(rest[:j])
		}
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), true
	}

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return nil, false
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return nil, false
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}
