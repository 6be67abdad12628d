package service

import (
	"context"
	"time"

	"github.com/transflow/api/internal/agent"
	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
)

// StageRunner runs one named stage on a state.
type StageRunner interface {
	RunStage(ctx context.Context, name string, st *agent.State) error
	StageNames() []string
}

// AgentService exposes single pipeline stages for interactive use.
type AgentService struct {
	runner  StageRunner
	timeout time.Duration
}

// NewAgentService creates a new AgentService
func NewAgentService(runner StageRunner, timeout time.Duration) *AgentService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AgentService{runner: runner, timeout: timeout}
}

// Stages lists the runnable stage names.
func (s *AgentService) Stages() []string {
	return s.runner.StageNames()
}

// Run executes one stage with the inputs of req.
func (s *AgentService) Run(ctx context.Context, stage string, req *model.AgentRunRequest, scope model.DictionaryScope) (*model.AgentRunResponse, error) {
	st := &agent.State{
		Source:         req.Source,
		Target:         req.Target,
		Prompt:         req.Prompt,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Domain:         req.Domain,
		TenantID:       scope.TenantID,
		ProjectID:      scope.ProjectID,
		UserID:         scope.UserID,
		Terms:          req.Terms,
		Dict:           req.Dict,
		Issues:         req.Issues,
		Hits:           req.Hits,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.runner.RunStage(ctx, stage, st); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).
		WithField(logger.FieldDurationMs, time.Since(start).Milliseconds()).
		Infof("agent stage %s finished", stage)

	return &model.AgentRunResponse{Stage: stage, Result: st.Result(), Issues: st.Issues}, nil
}
