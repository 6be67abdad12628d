package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/model"
)

// DictionaryRepository reads and writes glossary entries.
type DictionaryRepository struct {
	db *gorm.DB
}

// NewDictionaryRepository creates a new DictionaryRepository.
func NewDictionaryRepository(db *gorm.DB) *DictionaryRepository {
	return &DictionaryRepository{db: db}
}

// visibilityRank orders duplicate hits: the narrower scope wins.
var visibilityRank = map[model.Visibility]int{
	model.VisibilityPrivate: 0,
	model.VisibilityProject: 1,
	model.VisibilityPublic:  2,
}

// Lookup resolves terms against every glossary visible to scope: public
// entries always, project entries of scope's project and private entries
// owned by scope's user. Matching ignores case and each term resolves at
// most once.
func (r *DictionaryRepository) Lookup(ctx context.Context, scope model.DictionaryScope, terms []string) ([]model.DictEntry, error) {
	wanted := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		k := termKey(t)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		wanted = append(wanted, k)
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	var rows []model.DictionaryEntry
	for start := 0; start < len(wanted); start += lookupChunk {
		end := min(start+lookupChunk, len(wanted))
		var chunk []model.DictionaryEntry
		q := r.db.WithContext(ctx).
			Where("LOWER(term) IN ?", wanted[start:end]).
			Where(r.visibleTo(scope))
		if err := q.Find(&chunk).Error; err != nil {
			return nil, fmt.Errorf("failed to look up terms: %w", err)
		}
		rows = append(rows, chunk...)
	}

	best := make(map[string]model.DictionaryEntry, len(rows))
	for _, row := range rows {
		k := termKey(row.Term)
		cur, ok := best[k]
		if !ok || visibilityRank[row.Visibility] < visibilityRank[cur.Visibility] {
			best[k] = row
		}
	}

	out := make([]model.DictEntry, 0, len(best))
	for _, k := range wanted {
		row, ok := best[k]
		if !ok {
			continue
		}
		out = append(out, model.DictEntry{
			ID:           row.ID,
			DictionaryID: row.DictionaryID,
			Term:         row.Term,
			Translation:  row.Translation,
			Notes:        row.Notes,
			Source:       row.Source,
		})
	}
	return out, nil
}

func (r *DictionaryRepository) visibleTo(scope model.DictionaryScope) *gorm.DB {
	cond := r.db.Where("visibility = ?", model.VisibilityPublic)
	if scope.ProjectID != "" {
		cond = cond.Or("visibility = ? AND project_id = ?", model.VisibilityProject, scope.ProjectID)
	}
	if scope.UserID != "" {
		cond = cond.Or("visibility = ? AND owner_id = ?", model.VisibilityPrivate, scope.UserID)
	}
	return cond
}

// BulkUpsert writes entries into one glossary. Duplicate terms in entries
// collapse to the first occurrence. mode decides what happens to terms that
// already exist:
//
//	append     keep the stored entry
//	overwrite  drop the whole glossary first, then insert everything
//	upsert     replace the translation when the new one is non-empty
func (r *DictionaryRepository) BulkUpsert(ctx context.Context, dictionaryID string, scope model.DictionaryScope, entries []model.DictEntry, mode string) (model.UpsertCounts, error) {
	var counts model.UpsertCounts
	if dictionaryID == "" {
		return counts, apperr.Validation("dictionary id is required")
	}
	switch mode {
	case "":
		mode = model.ApplyModeUpsert
	case model.ApplyModeAppend, model.ApplyModeOverwrite, model.ApplyModeUpsert:
	default:
		return counts, apperr.Validation("unknown apply mode %q", mode)
	}

	unique := dedupeEntries(entries)
	counts.Skipped = len(entries) - len(unique)
	if len(unique) == 0 {
		return counts, nil
	}

	visibility := model.VisibilityPrivate
	if scope.ProjectID != "" {
		visibility = model.VisibilityProject
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := map[string]model.DictionaryEntry{}
		if mode == model.ApplyModeOverwrite {
			if err := tx.Where("dictionary_id = ?", dictionaryID).Delete(&model.DictionaryEntry{}).Error; err != nil {
				return fmt.Errorf("failed to clear dictionary: %w", err)
			}
		} else {
			keys := make([]string, len(unique))
			for i, e := range unique {
				keys[i] = termKey(e.Term)
			}
			for start := 0; start < len(keys); start += lookupChunk {
				end := min(start+lookupChunk, len(keys))
				var rows []model.DictionaryEntry
				if err := tx.Where("dictionary_id = ? AND LOWER(term) IN ?", dictionaryID, keys[start:end]).
					Find(&rows).Error; err != nil {
					return fmt.Errorf("failed to load dictionary entries: %w", err)
				}
				for _, row := range rows {
					existing[termKey(row.Term)] = row
				}
			}
		}

		var inserts []model.DictionaryEntry
		for _, e := range unique {
			cur, found := existing[termKey(e.Term)]
			if !found {
				inserts = append(inserts, model.DictionaryEntry{
					ID:           uuid.New().String(),
					DictionaryID: dictionaryID,
					TenantID:     scope.TenantID,
					ProjectID:    scope.ProjectID,
					OwnerID:      scope.UserID,
					Visibility:   visibility,
					Term:         strings.TrimSpace(e.Term),
					Translation:  strings.TrimSpace(e.Translation),
					Notes:        e.Notes,
					Source:       e.Source,
				})
				continue
			}

			translation := strings.TrimSpace(e.Translation)
			if mode == model.ApplyModeAppend || translation == "" || translation == cur.Translation {
				counts.Skipped++
				continue
			}
			fields := map[string]interface{}{"translation": translation}
			if e.Notes != "" {
				fields["notes"] = e.Notes
			}
			if err := tx.Model(&model.DictionaryEntry{}).Where("id = ?", cur.ID).Updates(fields).Error; err != nil {
				return fmt.Errorf("failed to update term %q: %w", cur.Term, err)
			}
			counts.Updated++
		}

		if len(inserts) > 0 {
			if err := tx.CreateInBatches(inserts, insertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert dictionary entries: %w", err)
			}
		}
		counts.Inserted = len(inserts)
		return nil
	})
	if err != nil {
		return model.UpsertCounts{}, err
	}
	return counts, nil
}

// ListUntranslated returns the entries of a glossary that still lack a translation.
func (r *DictionaryRepository) ListUntranslated(ctx context.Context, dictionaryID string) ([]model.DictionaryEntry, error) {
	var rows []model.DictionaryEntry
	if err := r.db.WithContext(ctx).
		Where("dictionary_id = ? AND (translation IS NULL OR translation = '')", dictionaryID).
		Order("term ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SetTranslation fills in one entry's translation.
func (r *DictionaryRepository) SetTranslation(ctx context.Context, id, translation string) error {
	return r.db.WithContext(ctx).Model(&model.DictionaryEntry{}).
		Where("id = ?", id).
		Update("translation", translation).Error
}

func dedupeEntries(entries []model.DictEntry) []model.DictEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]model.DictEntry, 0, len(entries))
	for _, e := range entries {
		k := termKey(e.Term)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

func termKey(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}
