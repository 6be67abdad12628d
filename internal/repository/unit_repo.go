package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/model"
)

const (
	insertBatchSize = 200
	// lookupChunk keeps IN lists under SQLite's bound-parameter limit.
	lookupChunk = 500
)

// UnitRepository handles translation units.
type UnitRepository struct {
	db *gorm.DB
}

// NewUnitRepository creates a new UnitRepository.
func NewUnitRepository(db *gorm.DB) *UnitRepository {
	return &UnitRepository{db: db}
}

// ReplaceForDocument deletes every unit of a document and inserts segs as
// units numbered 1..len(segs), all in one transaction. Metadata that fails
// its schema check rejects the whole set before anything is deleted.
func (r *UnitRepository) ReplaceForDocument(ctx context.Context, documentID string, segs []model.Segment) (int, error) {
	units := make([]model.Unit, len(segs))
	for i, s := range segs {
		if err := s.Metadata.Validate(s.SourceText); err != nil {
			return 0, apperr.Validation("segment %d: %v", i+1, err)
		}
		typ := s.Type
		if typ == "" {
			typ = model.UnitTypeText
		}
		units[i] = model.Unit{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			Order:      i + 1,
			SourceText: s.SourceText,
			Status:     model.StageNotStarted,
			Type:       typ,
			Metadata:   s.Metadata,
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Unit{}).Error; err != nil {
			return fmt.Errorf("failed to delete units: %w", err)
		}
		if len(units) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(units, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert units: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(units), nil
}

// GetByID retrieves one unit.
func (r *UnitRepository) GetByID(ctx context.Context, id string) (*model.Unit, error) {
	var u model.Unit
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("unit")
		}
		return nil, err
	}
	return &u, nil
}

// GetLite returns the id, document, source and target of each existing unit
// in ids. Unknown ids are silently absent from the result.
func (r *UnitRepository) GetLite(ctx context.Context, ids []string) ([]model.UnitLite, error) {
	var out []model.UnitLite
	for start := 0; start < len(ids); start += lookupChunk {
		end := min(start+lookupChunk, len(ids))
		var chunk []model.UnitLite
		if err := r.db.WithContext(ctx).Model(&model.Unit{}).
			Select("id", "document_id", "source_text", "target_text").
			Where("id IN ?", ids[start:end]).
			Find(&chunk).Error; err != nil {
			return nil, fmt.Errorf("failed to load units: %w", err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// ListByDocument returns one page of a document's units in order.
func (r *UnitRepository) ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]model.Unit, int64, error) {
	var total int64
	q := r.db.WithContext(ctx).Model(&model.Unit{}).Where("document_id = ?", documentID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var units []model.Unit
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("sort_order ASC").
		Limit(limit).
		Offset(offset).
		Find(&units).Error; err != nil {
		return nil, 0, err
	}
	return units, total, nil
}

// SourceTexts returns every source text of a document in order.
func (r *UnitRepository) SourceTexts(ctx context.Context, documentID string) ([]string, error) {
	var texts []string
	if err := r.db.WithContext(ctx).Model(&model.Unit{}).
		Where("document_id = ?", documentID).
		Order("sort_order ASC").
		Pluck("source_text", &texts).Error; err != nil {
		return nil, err
	}
	return texts, nil
}

// ApplyResult writes one phase result onto its unit and moves the unit to
// the phase's terminal stage. Locked units are left alone and report false.
func (r *UnitRepository) ApplyResult(ctx context.Context, phase model.Phase, res model.UnitResult) (bool, error) {
	if res.ID == "" {
		return false, apperr.Validation("result without unit id")
	}
	fields, err := resultFields(phase, res)
	if err != nil {
		return false, err
	}
	fields["status"] = phase.TerminalStage()

	tx := r.db.WithContext(ctx).Model(&model.Unit{}).
		Where("id = ? AND locked = ?", res.ID, false).
		Updates(fields)
	if tx.Error != nil {
		return false, fmt.Errorf("failed to update unit %s: %w", res.ID, tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

func resultFields(phase model.Phase, res model.UnitResult) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	switch phase {
	case model.PhasePreTranslate:
		terms, err := toJSON(res.Terms)
		if err != nil {
			return nil, err
		}
		dict, err := toJSON(res.Dict)
		if err != nil {
			return nil, err
		}
		fields["pre_translate_terms"] = terms
		fields["pre_translate_dict"] = dict
		fields["pre_translate_embedded"] = res.Translation
		if res.Translation != "" {
			fields["target_text"] = res.Translation
		}
	case model.PhaseQA:
		fields["qa_bi_term"] = rawJSON(res.Markers)
		fields["qa_syntax"] = rawJSON(res.Evaluation)
		fields["qa_syntax_embedded"] = res.Revised
	case model.PhasePostEdit:
		hits, err := toJSON(res.Hits)
		if err != nil {
			return nil, err
		}
		fields["post_edit_query"] = hits
		fields["post_edit_evaluation"] = rawJSON(res.DiscourseEval)
		fields["post_edit_discourse"] = res.Rewrite
	default:
		return nil, apperr.Validation("unknown phase %q", phase)
	}
	return fields, nil
}

func toJSON(v interface{}) (datatypes.JSON, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return datatypes.JSON(data), nil
}

func rawJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(raw)
}

// Save applies a direct single-unit edit.
func (r *UnitRepository) Save(ctx context.Context, id string, req *model.SaveUnitRequest) (*model.Unit, error) {
	fields := map[string]interface{}{}
	if req.TargetText != nil {
		fields["target_text"] = *req.TargetText
	}
	if req.NeedsReview != nil {
		fields["needs_review"] = *req.NeedsReview
	}
	if req.Locked != nil {
		fields["locked"] = *req.Locked
	}
	if len(fields) > 0 {
		res := r.db.WithContext(ctx).Model(&model.Unit{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to save unit: %w", res.Error)
		}
	}
	return r.GetByID(ctx, id)
}

// UpdateStatus sets the workflow stage of a unit.
func (r *UnitRepository) UpdateStatus(ctx context.Context, id string, stage model.TranslationStage) error {
	res := r.db.WithContext(ctx).Model(&model.Unit{}).Where("id = ?", id).Update("status", stage)
	if res.Error != nil {
		return fmt.Errorf("failed to update unit status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("unit")
	}
	return nil
}
