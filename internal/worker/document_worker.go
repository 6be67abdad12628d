package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/transflow/api/internal/batch"
	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/progress"
)

// TermExtractor extracts ranked terms from a whole document.
type TermExtractor interface {
	Extract(ctx context.Context, texts []string, prompt string, maxTerms int) ([]model.TermCandidate, error)
}

// SourceReader returns a document's unit source texts in order.
type SourceReader interface {
	SourceTexts(ctx context.Context, documentID string) ([]string, error)
}

// DocumentFailer moves a document to ERROR.
type DocumentFailer interface {
	Fail(ctx context.Context, docID string, cause error) error
}

// DocumentWorker processes document-level jobs
type DocumentWorker struct {
	terms    TermExtractor
	units    SourceReader
	docs     DocumentFailer
	store    *progress.Store
	maxTerms int
}

// NewDocumentWorker creates a new document worker. docs may be nil.
func NewDocumentWorker(terms TermExtractor, units SourceReader, docs DocumentFailer, store *progress.Store, maxTerms int) *DocumentWorker {
	return &DocumentWorker{terms: terms, units: units, docs: docs, store: store, maxTerms: maxTerms}
}

// Register mounts the worker on its task types.
func (w *DocumentWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(batch.TaskTypeDocumentTerms, w.ProcessTerms)
}

// ProcessTerms extracts terms over every unit of a document and stores them
// as the batch's terms artifact.
func (w *DocumentWorker) ProcessTerms(ctx context.Context, t *asynq.Task) error {
	var p model.DocumentTermsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal terms payload: %v: %w", err, asynq.SkipRetry)
	}
	if !progress.ValidBatchID(p.BatchID) || p.DocumentID == "" {
		return fmt.Errorf("terms payload without batch or document id: %w", asynq.SkipRetry)
	}

	ctx = logger.SetDocumentID(logger.SetBatch(ctx, "terms", p.BatchID), p.DocumentID)
	b := progress.Batch{NS: model.NamespaceDocTerms, ID: p.BatchID}

	terms, err := w.extract(ctx, p)
	if err == nil {
		if err = w.store.PutArtifact(ctx, b, model.ArtifactTerms, terms); err == nil {
			w.setStatus(ctx, b, model.TermsJobStatus{Status: model.TermsDone})
			logger.FromContext(ctx).WithField(logger.FieldCount, len(terms)).Info("document terms extracted")
			return nil
		}
	}

	if !finalAttempt(ctx, err) {
		logger.CtxWarn(ctx, "term extraction failed, will retry: %v", err)
		return err
	}

	logger.CtxError(ctx, "term extraction failed: %v", err)
	w.setStatus(ctx, b, model.TermsJobStatus{Status: model.TermsFailed, Error: err.Error()})
	if w.docs != nil {
		if ferr := w.docs.Fail(ctx, p.DocumentID, err); ferr != nil {
			logger.CtxWarn(ctx, "failed to mark document failed: %v", ferr)
		}
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func (w *DocumentWorker) extract(ctx context.Context, p model.DocumentTermsPayload) ([]model.TermCandidate, error) {
	texts, err := w.units.SourceTexts(ctx, p.DocumentID)
	if err != nil {
		return nil, err
	}
	return w.terms.Extract(ctx, texts, p.Prompt, w.maxTerms)
}

func (w *DocumentWorker) setStatus(ctx context.Context, b progress.Batch, st model.TermsJobStatus) {
	if err := w.store.PutArtifact(ctx, b, model.ArtifactTermsStatus, st); err != nil {
		logger.CtxWarn(ctx, "failed to store terms status: %v", err)
	}
}
