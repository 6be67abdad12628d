package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/repository"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// UnitService serves the editor: unit pages, direct saves and the stage
// audit trail.
type UnitService struct {
	units   *repository.UnitRepository
	records *repository.StageRecordRepository
	now     func() time.Time
}

// NewUnitService creates a new UnitService
func NewUnitService(units *repository.UnitRepository, records *repository.StageRecordRepository) *UnitService {
	return &UnitService{units: units, records: records, now: time.Now}
}

// List returns one page of a document's units in order. page is 1-based.
func (s *UnitService) List(ctx context.Context, documentID string, page, pageSize int) (*model.UnitListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	units, total, err := s.units.ListByDocument(ctx, documentID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	if units == nil {
		units = []model.Unit{}
	}
	return &model.UnitListResponse{Items: units, Total: total, Page: page, PageSize: pageSize}, nil
}

// Get returns one unit.
func (s *UnitService) Get(ctx context.Context, id string) (*model.Unit, error) {
	return s.units.GetByID(ctx, id)
}

// Save applies an editor save and records it as a user action on the
// unit's current stage.
func (s *UnitService) Save(ctx context.Context, id, userID string, req *model.SaveUnitRequest) (*model.Unit, error) {
	ctx = logger.SetUnitID(ctx, id)
	u, err := s.units.Save(ctx, id, req)
	if err != nil {
		return nil, err
	}
	if req.TargetText != nil {
		if _, err := s.record(ctx, u, u.Status, model.ActorUser, userID, "", model.StepSuccess, ""); err != nil {
			logger.CtxWarn(ctx, "failed to record save: %v", err)
		}
	}
	return u, nil
}

// RecordTransition appends one record to a unit's audit trail.
func (s *UnitService) RecordTransition(ctx context.Context, unitID string, stepKey model.TranslationStage, actor model.ActorType, actorID string, status model.StepStatus) (*model.StageRecord, error) {
	if !model.IsValidStage(stepKey) {
		return nil, apperr.Validation("unknown stage %q", stepKey)
	}
	u, err := s.units.GetByID(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return s.record(ctx, u, stepKey, actor, actorID, "", status, "")
}

// ListTransitions returns a unit's audit trail oldest first.
func (s *UnitService) ListTransitions(ctx context.Context, unitID string) (*model.TransitionListResponse, error) {
	if _, err := s.units.GetByID(ctx, unitID); err != nil {
		return nil, err
	}
	recs, err := s.records.ListByUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []model.StageRecord{}
	}
	return &model.TransitionListResponse{UnitID: unitID, Records: recs}, nil
}

// AdvanceStage moves a unit to another stage and records the move.
func (s *UnitService) AdvanceStage(ctx context.Context, unitID, actorID string, req *model.AdvanceStageRequest) (*model.StageRecord, error) {
	if !model.IsValidStage(req.Stage) {
		return nil, apperr.Validation("unknown stage %q", req.Stage)
	}
	ctx = logger.SetUnitID(ctx, unitID)
	u, err := s.units.GetByID(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if err := s.units.UpdateStatus(ctx, unitID, req.Stage); err != nil {
		return nil, err
	}

	actor := req.ActorType
	if actor == "" {
		actor = model.ActorUser
	}
	rec, err := s.record(ctx, u, req.Stage, actor, actorID, req.Model, model.StepSuccess, "")
	if err != nil {
		return nil, err
	}
	logger.CtxInfo(ctx, "unit stage %s -> %s", u.Status, req.Stage)
	return rec, nil
}

// GoToPrevious rolls a unit back from stepKey. The trail stays append-only:
// the latest live record for stepKey gets a REVERTED record pointing at it
// and the unit returns to the stage before stepKey.
func (s *UnitService) GoToPrevious(ctx context.Context, unitID, actorID string, stepKey model.TranslationStage) (*model.StageRecord, error) {
	if !model.IsValidStage(stepKey) {
		return nil, apperr.Validation("unknown stage %q", stepKey)
	}
	ctx = logger.SetUnitID(ctx, unitID)
	u, err := s.units.GetByID(ctx, unitID)
	if err != nil {
		return nil, err
	}
	latest, err := s.records.LatestActive(ctx, unitID, stepKey)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, apperr.NotFound("stage record")
	}

	prev := model.PreviousStage(stepKey)
	if err := s.units.UpdateStatus(ctx, unitID, prev); err != nil {
		return nil, err
	}
	rec, err := s.record(ctx, u, stepKey, model.ActorUser, actorID, "", model.StepReverted, latest.ID)
	if err != nil {
		return nil, err
	}
	logger.CtxInfo(ctx, "unit stage %s reverted to %s", stepKey, prev)
	return rec, nil
}

func (s *UnitService) record(ctx context.Context, u *model.Unit, stepKey model.TranslationStage, actor model.ActorType, actorID, modelName string, status model.StepStatus, revertsID string) (*model.StageRecord, error) {
	now := s.now()
	unitID := u.ID
	meta, _ := json.Marshal(map[string]string{"fromStatus": string(u.Status)})
	rec := &model.StageRecord{
		ID:         uuid.New().String(),
		UnitID:     &unitID,
		DocumentID: u.DocumentID,
		StepKey:    stepKey,
		ActorType:  actor,
		ActorID:    actorID,
		Model:      modelName,
		Status:     status,
		RevertsID:  revertsID,
		Metadata:   datatypes.JSON(meta),
		CreatedAt:  now,
	}
	if status != model.StepStarted {
		rec.FinishedAt = &now
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
