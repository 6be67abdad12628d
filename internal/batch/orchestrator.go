// Package batch starts, tracks, cancels and persists per-unit batch phases.
// Work is fanned out as one queue task per unit; progress lives in the
// progress store until the batch is persisted.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/progress"
)

// Task types
const (
	TaskTypeUnitPreTranslate = "unit:pretranslate"
	TaskTypeUnitQA           = "unit:qa"
	TaskTypeUnitPostEdit     = "unit:postedit"
	TaskTypeDocumentTerms    = "document:terms"
)

// QueueDocuments carries document-level jobs.
const QueueDocuments = "documents"

const defaultRetention = 24 * time.Hour

// TaskType returns the task type that processes units of phase.
func TaskType(phase model.Phase) string {
	switch phase {
	case model.PhaseQA:
		return TaskTypeUnitQA
	case model.PhasePostEdit:
		return TaskTypeUnitPostEdit
	default:
		return TaskTypeUnitPreTranslate
	}
}

// Queue returns the queue name of phase.
func Queue(phase model.Phase) string {
	return string(phase)
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// UnitStore is the unit persistence the orchestrator needs.
type UnitStore interface {
	GetLite(ctx context.Context, ids []string) ([]model.UnitLite, error)
	ApplyResult(ctx context.Context, phase model.Phase, res model.UnitResult) (bool, error)
}

// RecordStore appends audit records.
type RecordStore interface {
	CreateBatch(ctx context.Context, recs []model.StageRecord) error
}

// DocumentMover moves documents through the document state machine.
type DocumentMover interface {
	Transition(ctx context.Context, docID string, to model.DocumentStatus) (*model.Document, error)
}

// Memory receives persisted translations for later similarity search.
type Memory interface {
	Remember(ctx context.Context, pairs []model.MemoryPair) (int, error)
}

// Config tunes task dispatch.
type Config struct {
	MaxRetry  int
	Retention time.Duration
}

// StartRequest describes a batch to start.
type StartRequest struct {
	BatchID   string
	ItemIDs   []string
	Options   model.BatchOptions
	UserID    string
	TenantID  string
	ProjectID string
}

// Orchestrator coordinates batch phases.
type Orchestrator struct {
	store    *progress.Store
	queue    Enqueuer
	units    UnitStore
	records  RecordStore
	docs     DocumentMover
	memory   Memory
	cfg      Config
	now      func() time.Time
	newBatch func() string
}

// NewOrchestrator creates an Orchestrator. docs and memory may be nil.
func NewOrchestrator(store *progress.Store, queue Enqueuer, units UnitStore, records RecordStore, docs DocumentMover, memory Memory, cfg Config) *Orchestrator {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}
	o := &Orchestrator{
		store:   store,
		queue:   queue,
		units:   units,
		records: records,
		docs:    docs,
		memory:  memory,
		cfg:     cfg,
		now:     time.Now,
	}
	o.newBatch = o.defaultBatchID
	return o
}

func (o *Orchestrator) defaultBatchID() string {
	return progress.NewBatchID(o.now())
}

// Start seeds a batch and dispatches one task per eligible unit. It returns
// as soon as the tasks are queued.
func (o *Orchestrator) Start(ctx context.Context, phase model.Phase, req StartRequest) (*model.BatchStartResponse, error) {
	ids := compactIDs(req.ItemIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation("itemIds must not be empty")
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = o.newBatch()
	} else if !progress.ValidBatchID(batchID) {
		return nil, apperr.Validation("invalid batchId %q", batchID)
	}
	ctx = logger.SetBatch(ctx, string(phase), batchID)
	b := progress.For(phase, batchID)

	lite, err := o.units.GetLite(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load units: %w", err)
	}
	eligible := make([]model.UnitLite, 0, len(lite))
	for _, u := range lite {
		if Eligible(phase, u) {
			eligible = append(eligible, u)
		}
	}

	if err := o.store.Seed(ctx, b, int64(len(eligible))); err != nil {
		if errors.Is(err, progress.ErrBatchExists) {
			return nil, fmt.Errorf("%w: batch %s is still active, persist or wait for it to expire", apperr.ErrConflict, batchID)
		}
		return nil, err
	}
	if len(eligible) == 0 {
		logger.CtxInfo(ctx, "batch started with no eligible units (%d requested)", len(ids))
		return &model.BatchStartResponse{BatchID: batchID, Total: 0}, nil
	}

	// task ids are scoped to this run so retained tasks of an earlier run
	// under the same batch id do not swallow the new ones
	run := uuid.New().String()[:8]
	queued := 0
	for _, u := range eligible {
		if err := o.enqueueUnit(ctx, phase, batchID, run, u, req); err != nil {
			logger.CtxError(ctx, "failed to enqueue unit %s: %v", u.ID, err)
			if _, accErr := o.store.Account(ctx, b, u.ID, false); accErr != nil {
				logger.CtxError(ctx, "failed to account unit %s: %v", u.ID, accErr)
			}
			continue
		}
		queued++
	}
	if queued == 0 {
		return nil, fmt.Errorf("failed to enqueue any unit of batch %s", batchID)
	}

	if phase == model.PhasePreTranslate {
		o.markTranslating(ctx, eligible)
	}

	logger.CtxInfo(ctx, "batch started: %d units queued", queued)
	return &model.BatchStartResponse{BatchID: batchID, Total: int64(len(eligible))}, nil
}

// Eligible reports whether a unit takes part in phase. QA accepts a unit
// with either side filled; the other phases need source text.
func Eligible(phase model.Phase, u model.UnitLite) bool {
	if phase == model.PhaseQA {
		return strings.TrimSpace(u.SourceText) != "" || strings.TrimSpace(u.TargetText) != ""
	}
	return strings.TrimSpace(u.SourceText) != ""
}

func (o *Orchestrator) enqueueUnit(ctx context.Context, phase model.Phase, batchID, run string, u model.UnitLite, req StartRequest) error {
	payload, err := json.Marshal(model.UnitJobPayload{
		Phase:          phase,
		BatchID:        batchID,
		ID:             u.ID,
		Text:           u.SourceText,
		Target:         u.TargetText,
		SourceLanguage: req.Options.SourceLanguage,
		TargetLanguage: req.Options.TargetLanguage,
		Domain:         req.Options.Domain,
		Prompt:         req.Options.Prompt,
		UserID:         req.UserID,
		TenantID:       req.TenantID,
		ProjectID:      req.ProjectID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TaskType(phase), payload)
	_, err = o.queue.EnqueueContext(ctx, task,
		asynq.TaskID(fmt.Sprintf("%s:%s:%s:%s", phase, batchID, run, u.ID)),
		asynq.Queue(Queue(phase)),
		asynq.MaxRetry(o.cfg.MaxRetry),
		asynq.Retention(o.cfg.Retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logger.CtxDebug(ctx, "unit %s already queued", u.ID)
		return nil
	}
	return err
}

func (o *Orchestrator) markTranslating(ctx context.Context, units []model.UnitLite) {
	if o.docs == nil {
		return
	}
	seen := map[string]struct{}{}
	for _, u := range units {
		if u.DocumentID == "" {
			continue
		}
		if _, ok := seen[u.DocumentID]; ok {
			continue
		}
		seen[u.DocumentID] = struct{}{}
		if _, err := o.docs.Transition(ctx, u.DocumentID, model.DocumentTranslating); err != nil {
			if errors.Is(err, apperr.ErrIllegalTransition) {
				logger.CtxDebug(ctx, "document %s stays put: %v", u.DocumentID, err)
				continue
			}
			logger.CtxWarn(ctx, "failed to mark document %s translating: %v", u.DocumentID, err)
		}
	}
}

// Progress returns the counters of a batch. A missing batch reads as zeros.
func (o *Orchestrator) Progress(ctx context.Context, phase model.Phase, batchID string) (*model.BatchProgress, error) {
	if !progress.ValidBatchID(batchID) {
		return nil, apperr.Validation("invalid batchId %q", batchID)
	}
	p, _, err := o.store.Get(ctx, progress.For(phase, batchID))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Cancel raises the cancel flag. Units already running finish; units not
// yet started are counted as failed by the worker.
func (o *Orchestrator) Cancel(ctx context.Context, phase model.Phase, batchID string) error {
	if !progress.ValidBatchID(batchID) {
		return apperr.Validation("invalid batchId %q", batchID)
	}
	if err := o.store.Cancel(ctx, progress.For(phase, batchID)); err != nil {
		return err
	}
	logger.CtxInfo(logger.SetBatch(ctx, string(phase), batchID), "batch cancel requested")
	return nil
}

// Persist writes every stored unit result onto its unit, appends one audit
// record per updated unit and deletes the batch's keys.
func (o *Orchestrator) Persist(ctx context.Context, phase model.Phase, batchID string) (*model.BatchPersistResponse, error) {
	if !progress.ValidBatchID(batchID) {
		return nil, apperr.Validation("invalid batchId %q", batchID)
	}
	ctx = logger.SetBatch(ctx, string(phase), batchID)
	b := progress.For(phase, batchID)

	p, exists, err := o.store.Get(ctx, b)
	if err != nil {
		return nil, err
	}
	if !exists || p.Total == 0 {
		if _, err := o.store.Purge(ctx, b); err != nil {
			logger.CtxWarn(ctx, "failed to purge empty batch: %v", err)
		}
		return &model.BatchPersistResponse{Updated: 0}, nil
	}

	items, err := o.store.Items(ctx, b)
	if err != nil {
		return nil, err
	}

	results := make([]model.UnitResult, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		var res model.UnitResult
		if err := json.Unmarshal(it.Data, &res); err != nil {
			logger.CtxWarn(ctx, "skipping malformed result of unit %s: %v", it.UnitID, err)
			continue
		}
		res.ID = it.UnitID
		results = append(results, res)
		ids = append(ids, it.UnitID)
	}

	docOf := map[string]model.UnitLite{}
	if len(ids) > 0 {
		lite, err := o.units.GetLite(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load units: %w", err)
		}
		for _, u := range lite {
			docOf[u.ID] = u
		}
	}

	now := o.now()
	meta, _ := json.Marshal(map[string]string{"batchId": batchID, "phase": string(phase)})
	records := make([]model.StageRecord, 0, len(results))
	pairs := make([]model.MemoryPair, 0, len(results))
	for _, res := range results {
		applied, err := o.units.ApplyResult(ctx, phase, res)
		if err != nil {
			logger.CtxWarn(ctx, "skipping unit %s: %v", res.ID, err)
			continue
		}
		if !applied {
			continue
		}

		unitID := res.ID
		finished := now
		records = append(records, model.StageRecord{
			ID:         uuid.New().String(),
			UnitID:     &unitID,
			DocumentID: docOf[res.ID].DocumentID,
			StepKey:    phase.TerminalStage(),
			ActorType:  model.ActorAgent,
			Model:      res.Model,
			Status:     model.StepSuccess,
			Metadata:   meta,
			CreatedAt:  now,
			FinishedAt: &finished,
		})
		if target := persistedTarget(phase, res); target != "" {
			pairs = append(pairs, model.MemoryPair{
				UnitID:         res.ID,
				DocumentID:     docOf[res.ID].DocumentID,
				TenantID:       res.TenantID,
				ProjectID:      res.ProjectID,
				Source:         docOf[res.ID].SourceText,
				Target:         target,
				SourceLanguage: res.SourceLanguage,
				TargetLanguage: res.TargetLanguage,
			})
		}
	}

	if len(records) > 0 {
		if err := o.records.CreateBatch(ctx, records); err != nil {
			logger.CtxError(ctx, "failed to append audit records: %v", err)
		}
	}
	o.remember(ctx, pairs)

	if _, err := o.store.Purge(ctx, b); err != nil {
		logger.CtxWarn(ctx, "failed to purge batch: %v", err)
	}

	logger.CtxInfo(ctx, "batch persisted: %d of %d results applied", len(records), len(items))
	return &model.BatchPersistResponse{Updated: len(records)}, nil
}

// persistedTarget is the text a phase writes as the unit's translation.
func persistedTarget(phase model.Phase, res model.UnitResult) string {
	switch phase {
	case model.PhasePreTranslate:
		return res.Translation
	case model.PhasePostEdit:
		return res.Rewrite
	}
	return ""
}

func (o *Orchestrator) remember(ctx context.Context, pairs []model.MemoryPair) {
	if o.memory == nil || len(pairs) == 0 {
		return
	}
	n, err := o.memory.Remember(ctx, pairs)
	if err != nil {
		logger.CtxWarn(ctx, "failed to update translation memory: %v", err)
		return
	}
	logger.CtxDebug(ctx, "translation memory updated with %d pairs", n)
}

func compactIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
