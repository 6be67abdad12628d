package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/transflow/api/internal/model"
)

// StageRecordRepository stores the append-only unit audit trail.
type StageRecordRepository struct {
	db *gorm.DB
}

// NewStageRecordRepository creates a new StageRecordRepository.
func NewStageRecordRepository(db *gorm.DB) *StageRecordRepository {
	return &StageRecordRepository{db: db}
}

// Create appends one record.
func (r *StageRecordRepository) Create(ctx context.Context, rec *model.StageRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to append stage record: %w", err)
	}
	return nil
}

// CreateBatch appends many records in one statement.
func (r *StageRecordRepository) CreateBatch(ctx context.Context, recs []model.StageRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(recs, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to append stage records: %w", err)
	}
	return nil
}

// ListByUnit returns a unit's records oldest first.
func (r *StageRecordRepository) ListByUnit(ctx context.Context, unitID string) ([]model.StageRecord, error) {
	var recs []model.StageRecord
	if err := r.db.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// LatestActive returns the newest record of a unit for stepKey that is not
// itself a revert and has not been reverted yet. It returns nil when none is left.
func (r *StageRecordRepository) LatestActive(ctx context.Context, unitID string, stepKey model.TranslationStage) (*model.StageRecord, error) {
	reverted := r.db.Model(&model.StageRecord{}).
		Select("reverts_id").
		Where("unit_id = ? AND status = ? AND reverts_id <> ''", unitID, model.StepReverted)

	var rec model.StageRecord
	err := r.db.WithContext(ctx).
		Where("unit_id = ? AND step_key = ? AND status <> ?", unitID, stepKey, model.StepReverted).
		Where("id NOT IN (?)", reverted).
		Order("created_at DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
