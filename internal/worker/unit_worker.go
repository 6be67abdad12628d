package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/transflow/api/internal/agent"
	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/batch"
	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/progress"
)

// DefaultUnitTimeout bounds one unit's chain run.
const DefaultUnitTimeout = 60 * time.Second

// PhaseRunner runs a phase chain on one unit.
type PhaseRunner interface {
	RunPhase(ctx context.Context, phase model.Phase, st *agent.State) error
}

// Broadcaster pushes batch updates to subscribers.
type Broadcaster interface {
	BroadcastProgress(phase model.Phase, unitID string, p model.BatchProgress)
	BroadcastError(batchID, unitID, code, message string)
}

// UnitWorker processes one unit of a batch phase per task
type UnitWorker struct {
	runner  PhaseRunner
	store   *progress.Store
	hub     Broadcaster
	timeout time.Duration
}

// NewUnitWorker creates a new unit worker. hub may be nil.
func NewUnitWorker(runner PhaseRunner, store *progress.Store, hub Broadcaster, timeout time.Duration) *UnitWorker {
	if timeout <= 0 {
		timeout = DefaultUnitTimeout
	}
	return &UnitWorker{runner: runner, store: store, hub: hub, timeout: timeout}
}

// Register mounts the worker on every unit task type.
func (w *UnitWorker) Register(mux *asynq.ServeMux) {
	for _, phase := range model.ValidPhases {
		mux.HandleFunc(batch.TaskType(phase), w.ProcessTask)
	}
}

// ProcessTask handles one unit task
func (w *UnitWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	phase, ok := phaseOf(t.Type())
	if !ok {
		return fmt.Errorf("unknown task type %q: %w", t.Type(), asynq.SkipRetry)
	}

	var p model.UnitJobPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal unit payload: %v: %w", err, asynq.SkipRetry)
	}
	if !progress.ValidBatchID(p.BatchID) || p.ID == "" {
		return fmt.Errorf("unit payload without batch or unit id: %w", asynq.SkipRetry)
	}

	ctx = logger.SetUnitID(logger.SetBatch(ctx, string(phase), p.BatchID), p.ID)
	b := progress.For(phase, p.BatchID)

	canceled, err := w.store.IsCanceled(ctx, b)
	if err != nil {
		return err
	}
	if canceled {
		logger.CtxInfo(ctx, "batch canceled, skipping unit")
		w.account(ctx, phase, b, p.ID, false)
		return nil
	}

	st := &agent.State{
		UnitID:         p.ID,
		Source:         p.Text,
		Target:         p.Target,
		Prompt:         p.Prompt,
		SourceLanguage: p.SourceLanguage,
		TargetLanguage: p.TargetLanguage,
		Domain:         p.Domain,
		TenantID:       p.TenantID,
		UserID:         p.UserID,
		ProjectID:      p.ProjectID,
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	runErr := w.runner.RunPhase(runCtx, phase, st)
	cancel()

	if runErr == nil {
		if err := w.store.PutItem(ctx, b, p.ID, st.Result()); err != nil {
			return err
		}
		logger.FromContext(ctx).WithField(logger.FieldDurationMs, time.Since(start).Milliseconds()).Info("unit processed")
		w.account(ctx, phase, b, p.ID, true)
		return nil
	}

	if !finalAttempt(ctx, runErr) {
		logger.CtxWarn(ctx, "unit failed, will retry: %v", runErr)
		return runErr
	}

	logger.CtxError(ctx, "unit failed: %v", runErr)
	if w.hub != nil {
		w.hub.BroadcastError(p.BatchID, p.ID, string(apperr.Classify(runErr)), runErr.Error())
	}
	w.account(ctx, phase, b, p.ID, false)
	return fmt.Errorf("%w: %w", runErr, asynq.SkipRetry)
}

// finalAttempt reports whether asynq will not retry after this run. Input
// errors never get better on retry.
func finalAttempt(ctx context.Context, err error) bool {
	if errors.Is(err, apperr.ErrValidation) {
		return true
	}
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (w *UnitWorker) account(ctx context.Context, phase model.Phase, b progress.Batch, unitID string, ok bool) {
	counted, err := w.store.Account(ctx, b, unitID, ok)
	if err != nil {
		logger.CtxError(ctx, "failed to account unit: %v", err)
		return
	}
	if !counted {
		logger.CtxDebug(ctx, "unit already accounted")
		return
	}
	if w.hub == nil {
		return
	}
	snapshot, exists, err := w.store.Get(ctx, b)
	if err != nil || !exists {
		return
	}
	w.hub.BroadcastProgress(phase, unitID, snapshot)
}

func phaseOf(taskType string) (model.Phase, bool) {
	for _, phase := range model.ValidPhases {
		if batch.TaskType(phase) == taskType {
			return phase, true
		}
	}
	return "", false
}
