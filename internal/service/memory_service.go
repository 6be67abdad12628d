package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/transflow/api/internal/agent"
	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/repository"
)

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the translation memory index.
type VectorStore interface {
	Upsert(ctx context.Context, pointID string, vector []float32, p repository.MemoryPayload) error
	Search(ctx context.Context, vector []float32, limit int, minScore float32, f repository.MemoryFilter) ([]repository.MemoryMatch, error)
}

// MemoryService implements agent.TranslationMemory over an embedder and a
// vector index.
type MemoryService struct {
	embedder Embedder
	store    VectorStore
}

var _ agent.TranslationMemory = (*MemoryService)(nil)

// NewMemoryService creates a new MemoryService
func NewMemoryService(embedder Embedder, store VectorStore) *MemoryService {
	return &MemoryService{embedder: embedder, store: store}
}

// Search embeds the query text and returns the closest prior translations.
func (s *MemoryService) Search(ctx context.Context, q agent.MemoryQuery) ([]model.MemoryHit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	vector, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := s.store.Search(ctx, vector, q.Limit, float32(q.MinScore), repository.MemoryFilter{
		TenantID:       q.TenantID,
		TargetLanguage: q.TargetLanguage,
		ExcludeUnitID:  q.ExcludeUnitID,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]model.MemoryHit, 0, len(matches))
	for _, m := range matches {
		if strings.TrimSpace(m.Payload.Target) == "" {
			continue
		}
		hits = append(hits, model.MemoryHit{
			ID:     m.Payload.UnitID,
			Source: m.Payload.Source,
			Target: m.Payload.Target,
			Score:  float64(m.Score),
		})
	}
	return hits, nil
}

// Remember indexes pairs with a non-blank target. The unit id is the point
// id, so a unit re-persisted later replaces its earlier pair.
func (s *MemoryService) Remember(ctx context.Context, pairs []model.MemoryPair) (int, error) {
	kept := make([]model.MemoryPair, 0, len(pairs))
	for _, p := range pairs {
		if strings.TrimSpace(p.Source) == "" || strings.TrimSpace(p.Target) == "" {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return 0, nil
	}

	texts := make([]string, len(kept))
	for i, p := range kept {
		texts[i] = p.Source
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed pairs: %w", err)
	}

	stored := 0
	for i, p := range kept {
		err := s.store.Upsert(ctx, p.UnitID, vectors[i], repository.MemoryPayload{
			UnitID:         p.UnitID,
			DocumentID:     p.DocumentID,
			TenantID:       p.TenantID,
			ProjectID:      p.ProjectID,
			Source:         p.Source,
			Target:         p.Target,
			SourceLanguage: p.SourceLanguage,
			TargetLanguage: p.TargetLanguage,
		})
		if err != nil {
			logger.CtxWarn(ctx, "failed to remember unit %s: %v", p.UnitID, err)
			continue
		}
		stored++
	}
	return stored, nil
}
