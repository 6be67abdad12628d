package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/model"
)

// DocumentRepository handles document records.
type DocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// GetByID retrieves a document by its ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("document")
		}
		return nil, err
	}
	return &doc, nil
}

// CompareAndSetStatus moves a document from one status to another in a
// single conditional UPDATE.
func (r *DocumentRepository) CompareAndSetStatus(ctx context.Context, id string, from, to model.DocumentStatus, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "error": errMsg})
	if res.Error != nil {
		return fmt.Errorf("failed to update document status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: document %s is no longer %s", apperr.ErrIllegalTransition, id, from)
	}
	return nil
}

// UpdateArtifacts merges non-empty fields of a into the structured column.
func (r *DocumentRepository) UpdateArtifacts(ctx context.Context, id string, a model.DocumentArtifacts) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc model.Document
		if err := tx.First(&doc, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("document")
			}
			return err
		}
		cur := doc.Artifacts()
		if a.BatchID != "" {
			cur.BatchID = a.BatchID
		}
		if a.StructuredKey != "" {
			cur.StructuredKey = a.StructuredKey
		}
		if a.PreviewKey != "" {
			cur.PreviewKey = a.PreviewKey
		}
		if a.PreviewHTMLKey != "" {
			cur.PreviewHTMLKey = a.PreviewHTMLKey
		}
		if a.SegmentsKey != "" {
			cur.SegmentsKey = a.SegmentsKey
		}
		if a.TermsKey != "" {
			cur.TermsKey = a.TermsKey
		}
		doc.SetArtifacts(cur)
		return tx.Model(&model.Document{}).Where("id = ?", id).Update("structured", doc.Structured).Error
	})
}
