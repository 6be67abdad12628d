package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/batch"
	"github.com/transflow/api/internal/client"
	"github.com/transflow/api/internal/docstate"
	"github.com/transflow/api/internal/jobcancel"
	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/progress"
	"github.com/transflow/api/internal/repository"
	"github.com/transflow/api/internal/segment"
)

// termTranslateChunk is how many glossary terms go into one model call.
const termTranslateChunk = 50

// TermTranslator proposes translations for glossary terms.
type TermTranslator interface {
	Translate(ctx context.Context, terms []string, sourceLanguage, targetLanguage, domain string) ([]model.DictEntry, error)
}

// DocumentConfig tunes the document pipeline.
type DocumentConfig struct {
	MaxRetry  int
	Retention time.Duration
}

// DocumentService drives a document through parse, segment, terms and apply.
type DocumentService struct {
	docs       *repository.DocumentRepository
	units      *repository.UnitRepository
	dictionary *repository.DictionaryRepository
	machine    *docstate.Machine
	store      *progress.Store
	storage    client.StorageClient
	queue      batch.Enqueuer
	translator TermTranslator
	jobs       *jobcancel.Registry
	cfg        DocumentConfig
	now        func() time.Time
}

// NewDocumentService creates a new DocumentService. storage and translator
// may be nil; the phases that need them then fail.
func NewDocumentService(
	docs *repository.DocumentRepository,
	units *repository.UnitRepository,
	dictionary *repository.DictionaryRepository,
	machine *docstate.Machine,
	store *progress.Store,
	storage client.StorageClient,
	queue batch.Enqueuer,
	translator TermTranslator,
	jobs *jobcancel.Registry,
	cfg DocumentConfig,
) *DocumentService {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &DocumentService{
		docs:       docs,
		units:      units,
		dictionary: dictionary,
		machine:    machine,
		store:      store,
		storage:    storage,
		queue:      queue,
		translator: translator,
		jobs:       jobs,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Register stores a new document in WAITING.
func (s *DocumentService) Register(ctx context.Context, req *model.RegisterDocumentRequest, scope model.DictionaryScope) (*model.Document, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, apperr.Validation("url is required")
	}
	name := req.Name
	if name == "" {
		name = filepath.Base(req.URL)
	}
	projectID := req.ProjectID
	if projectID == "" {
		projectID = scope.ProjectID
	}
	doc := &model.Document{
		ID:        uuid.New().String(),
		TenantID:  scope.TenantID,
		ProjectID: projectID,
		URL:       req.URL,
		Name:      name,
		MimeType:  segment.Format(req.MimeType, name),
		Status:    model.DocumentWaiting,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, err
	}
	logger.CtxInfo(logger.SetDocumentID(ctx, doc.ID), "document registered: %s", doc.Name)
	return doc, nil
}

// Get returns a document.
func (s *DocumentService) Get(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Editable = docstate.Editable(doc.Status)
	return doc, nil
}

func (s *DocumentService) batchFor(requested string, doc *model.Document) (string, error) {
	switch {
	case requested != "":
		if !progress.ValidBatchID(requested) {
			return "", apperr.Validation("invalid batchId %q", requested)
		}
		return requested, nil
	case doc != nil && doc.Artifacts().BatchID != "":
		return doc.Artifacts().BatchID, nil
	default:
		return progress.NewBatchID(s.now()), nil
	}
}

// Parse downloads the source file, structures it and stores the result under
// the document's batch.
func (s *DocumentService) Parse(ctx context.Context, id string, req *model.ParseRequest) (*model.ParseResponse, error) {
	if req.BatchID != "" && !progress.ValidBatchID(req.BatchID) {
		return nil, apperr.Validation("invalid batchId %q", req.BatchID)
	}

	var out *model.ParseResponse
	err := s.machine.Run(ctx, id, model.DocumentParsing, func(ctx context.Context, doc *model.Document) error {
		batchID, err := s.batchFor(req.BatchID, doc)
		if err != nil {
			return err
		}
		if s.storage == nil {
			return ErrStorageDisabled
		}

		data, err := s.storage.Download(ctx, doc.URL)
		if err != nil {
			return err
		}
		parsed, err := segment.Parse(data, doc.MimeType, doc.Name, titleOf(doc.Name))
		if err != nil {
			return err
		}

		b := progress.Batch{NS: model.NamespaceParse, ID: batchID}
		if err := s.store.PutArtifact(ctx, b, model.ArtifactParsed, parsed.Document); err != nil {
			return err
		}
		if err := s.store.PutArtifact(ctx, b, model.ArtifactPreview, parsed.PreviewText); err != nil {
			return err
		}
		if err := s.store.PutArtifact(ctx, b, model.ArtifactPreviewHTML, parsed.PreviewHTML); err != nil {
			return err
		}

		a := doc.Artifacts()
		a.BatchID = batchID
		a.StructuredKey = b.ArtifactKey(model.ArtifactParsed)
		a.PreviewKey = b.ArtifactKey(model.ArtifactPreview)
		a.PreviewHTMLKey = b.ArtifactKey(model.ArtifactPreviewHTML)
		if err := s.docs.UpdateArtifacts(ctx, id, a); err != nil {
			return err
		}

		logger.FromContext(ctx).WithField(logger.FieldCount, len(parsed.Document.Paragraphs)).Info("document parsed")
		out = &model.ParseResponse{
			PhaseResponse: model.PhaseResponse{OK: true, Step: model.DocumentParsing},
			BatchID:       batchID,
			Paragraphs:    len(parsed.Document.Paragraphs),
			Preview:       parsed.PreviewText,
			PreviewHTML:   parsed.PreviewHTML,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func titleOf(name string) string {
	return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
}

func (s *DocumentService) loadParsed(ctx context.Context, batchID string) (model.ParsedDocument, error) {
	var doc model.ParsedDocument
	found, err := s.store.GetArtifact(ctx, progress.Batch{NS: model.NamespaceParse, ID: batchID}, model.ArtifactParsed, &doc)
	if err != nil {
		return doc, err
	}
	if !found {
		return doc, apperr.Validation("no parse result for batch %s; run parse first", batchID)
	}
	return doc, nil
}

// Segment splits the parsed document into units. Preview mode stores a
// bounded sample and leaves the document alone; full mode replaces every
// unit of the document.
func (s *DocumentService) Segment(ctx context.Context, id string, req *model.SegmentRequest) (*model.SegmentResponse, error) {
	if req.Preview {
		return s.segmentPreview(ctx, id, req)
	}

	var out *model.SegmentResponse
	err := s.machine.Run(ctx, id, model.DocumentSegmenting, func(ctx context.Context, doc *model.Document) error {
		batchID, err := s.batchFor(req.BatchID, doc)
		if err != nil {
			return err
		}
		parsed, err := s.loadParsed(ctx, batchID)
		if err != nil {
			return err
		}

		segs := segment.Prepare(segment.Segment(parsed, segment.Options{}))
		n, err := s.units.ReplaceForDocument(ctx, id, segs)
		if err != nil {
			return err
		}

		a := doc.Artifacts()
		a.BatchID = batchID
		a.SegmentsKey = ""
		if err := s.docs.UpdateArtifacts(ctx, id, a); err != nil {
			return err
		}

		logger.FromContext(ctx).WithField(logger.FieldCount, n).Info("document segmented")
		out = &model.SegmentResponse{
			PhaseResponse: model.PhaseResponse{OK: true, Step: model.DocumentSegmenting},
			BatchID:       batchID,
			Count:         n,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DocumentService) segmentPreview(ctx context.Context, id string, req *model.SegmentRequest) (*model.SegmentResponse, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	batchID, err := s.batchFor(req.BatchID, doc)
	if err != nil {
		return nil, err
	}
	parsed, err := s.loadParsed(ctx, batchID)
	if err != nil {
		return nil, err
	}

	segs := segment.Prepare(segment.Segment(parsed, segment.Options{
		Preview:       true,
		MaxParagraphs: req.MaxParas,
		HeadChars:     req.HeadChars,
	}))
	b := progress.Batch{NS: model.NamespaceSegment, ID: batchID}
	if err := s.store.PutArtifact(ctx, b, model.ArtifactSegments, segs); err != nil {
		return nil, err
	}

	a := doc.Artifacts()
	a.BatchID = batchID
	a.SegmentsKey = b.ArtifactKey(model.ArtifactSegments)
	if err := s.docs.UpdateArtifacts(ctx, id, a); err != nil {
		return nil, err
	}

	return &model.SegmentResponse{
		PhaseResponse: model.PhaseResponse{OK: true, Step: doc.Status},
		BatchID:       batchID,
		Count:         len(segs),
		Segments:      segs,
	}, nil
}

// StartTerms queues document-wide term extraction.
func (s *DocumentService) StartTerms(ctx context.Context, id string, req *model.TermsRequest, userID string) (*model.TermsResponse, error) {
	var out *model.TermsResponse
	err := s.machine.Run(ctx, id, model.DocumentTermsExtracting, func(ctx context.Context, doc *model.Document) error {
		batchID, err := s.batchFor(req.BatchID, doc)
		if err != nil {
			return err
		}

		payload, err := json.Marshal(model.DocumentTermsPayload{
			BatchID:    batchID,
			DocumentID: id,
			Prompt:     req.Prompt,
			UserID:     userID,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}

		b := progress.Batch{NS: model.NamespaceDocTerms, ID: batchID}
		if err := s.store.PutArtifact(ctx, b, model.ArtifactTermsStatus, model.TermsJobStatus{Status: model.TermsRunning}); err != nil {
			return err
		}

		_, err = s.queue.EnqueueContext(ctx, asynq.NewTask(batch.TaskTypeDocumentTerms, payload),
			asynq.TaskID("terms:"+id+":"+batchID),
			asynq.Queue(batch.QueueDocuments),
			asynq.MaxRetry(s.cfg.MaxRetry),
			asynq.Retention(s.cfg.Retention),
		)
		if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
			return fmt.Errorf("failed to enqueue task: %w", err)
		}

		a := doc.Artifacts()
		a.BatchID = batchID
		a.TermsKey = b.ArtifactKey(model.ArtifactTerms)
		if err := s.docs.UpdateArtifacts(ctx, id, a); err != nil {
			return err
		}

		out = &model.TermsResponse{
			PhaseResponse: model.PhaseResponse{OK: true, Step: model.DocumentTermsExtracting},
			BatchID:       batchID,
			Status:        model.TermsRunning,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Terms returns the extraction status and, once done, the ranked terms.
func (s *DocumentService) Terms(ctx context.Context, id, batchID string) (*model.TermsResponse, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if batchID == "" {
		batchID = doc.Artifacts().BatchID
	}
	if !progress.ValidBatchID(batchID) {
		return nil, apperr.Validation("batchId is required")
	}

	b := progress.Batch{NS: model.NamespaceDocTerms, ID: batchID}
	var st model.TermsJobStatus
	found, err := s.store.GetArtifact(ctx, b, model.ArtifactTermsStatus, &st)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("terms job")
	}

	out := &model.TermsResponse{
		PhaseResponse: model.PhaseResponse{OK: st.Status != model.TermsFailed, Step: doc.Status},
		BatchID:       batchID,
		Status:        st.Status,
	}
	if st.Status == model.TermsDone {
		if _, err := s.store.GetArtifact(ctx, b, model.ArtifactTerms, &out.Terms); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Apply writes extracted or supplied terms into a glossary, optionally fills
// blank translations, and marks the document PREPROCESSED.
func (s *DocumentService) Apply(ctx context.Context, id string, req *model.ApplyTermsRequest, scope model.DictionaryScope) (*model.ApplyTermsResponse, error) {
	if req.BatchID != "" && !progress.ValidBatchID(req.BatchID) {
		return nil, apperr.Validation("invalid batchId %q", req.BatchID)
	}

	var out *model.ApplyTermsResponse
	err := s.machine.Run(ctx, id, model.DocumentPreprocessed, func(ctx context.Context, doc *model.Document) error {
		entries, err := s.applyEntries(ctx, doc, req)
		if err != nil {
			return err
		}

		dictID := req.DictionaryID
		if dictID == "" {
			dictID = defaultDictionaryID(doc)
		}
		if scope.ProjectID == "" {
			scope.ProjectID = doc.ProjectID
		}
		if scope.TenantID == "" {
			scope.TenantID = doc.TenantID
		}

		counts, err := s.dictionary.BulkUpsert(ctx, dictID, scope, entries, req.Mode)
		if err != nil {
			return err
		}

		out = &model.ApplyTermsResponse{
			PhaseResponse: model.PhaseResponse{OK: true, Step: model.DocumentPreprocessed},
			DictionaryID:  dictID,
			Inserted:      counts.Inserted,
			Updated:       counts.Updated,
			Skipped:       counts.Skipped,
		}
		if req.AutoTranslate {
			filled, canceled := s.autoTranslate(ctx, dictID, req)
			out.Updated += filled
			out.Canceled = canceled
		}
		logger.CtxInfo(ctx, "terms applied to %s: %d inserted, %d updated, %d skipped",
			dictID, out.Inserted, out.Updated, out.Skipped)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func defaultDictionaryID(doc *model.Document) string {
	if doc.ProjectID != "" {
		return "project:" + doc.ProjectID
	}
	return "document:" + doc.ID
}

func (s *DocumentService) applyEntries(ctx context.Context, doc *model.Document, req *model.ApplyTermsRequest) ([]model.DictEntry, error) {
	if len(req.Terms) > 0 {
		return req.Terms, nil
	}
	batchID := req.BatchID
	if batchID == "" {
		batchID = doc.Artifacts().BatchID
	}
	if batchID == "" {
		return nil, apperr.Validation("batchId or terms is required")
	}

	var terms []model.TermCandidate
	found, err := s.store.GetArtifact(ctx, progress.Batch{NS: model.NamespaceDocTerms, ID: batchID}, model.ArtifactTerms, &terms)
	if err != nil {
		return nil, err
	}
	if !found {
		logger.CtxWarn(ctx, "no extracted terms for batch %s", batchID)
		return nil, nil
	}
	entries := make([]model.DictEntry, 0, len(terms))
	for _, t := range terms {
		entries = append(entries, model.DictEntry{Term: t.Term, Source: "extract"})
	}
	return entries, nil
}

// autoTranslate fills blank glossary translations chunk by chunk. A second
// pass retries terms the model skipped. It stops early when the job is
// canceled and never fails the apply phase.
func (s *DocumentService) autoTranslate(ctx context.Context, dictID string, req *model.ApplyTermsRequest) (filled int, canceled bool) {
	if s.translator == nil {
		logger.CtxWarn(ctx, "auto-translate requested but no term translator is configured")
		return 0, false
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	s.jobs.Start(jobID)
	defer s.jobs.Clear(jobID)
	ctx, release := s.jobs.Bind(ctx, jobID)
	defer release()

	blanks, err := s.dictionary.ListUntranslated(ctx, dictID)
	if err != nil {
		logger.CtxError(ctx, "failed to list untranslated terms: %v", err)
		return 0, false
	}
	idOf := make(map[string]string, len(blanks))
	pending := make([]string, 0, len(blanks))
	for _, b := range blanks {
		idOf[b.Term] = b.ID
		pending = append(pending, b.Term)
	}

	for pass := 0; pass < 2 && len(pending) > 0; pass++ {
		var missing []string
		for start := 0; start < len(pending); start += termTranslateChunk {
			if s.jobs.IsCanceled(jobID) {
				logger.CtxInfo(ctx, "auto-translate job %s canceled after %d terms", jobID, filled)
				return filled, true
			}
			chunk := pending[start:min(start+termTranslateChunk, len(pending))]
			items, err := s.translator.Translate(ctx, chunk, req.SourceLanguage, req.TargetLanguage, req.Domain)
			if err != nil {
				if s.jobs.IsCanceled(jobID) {
					return filled, true
				}
				logger.CtxWarn(ctx, "term translation chunk failed: %v", err)
				missing = append(missing, chunk...)
				continue
			}
			answered := make(map[string]bool, len(chunk))
			for _, it := range items {
				entryID, ok := idOf[it.Term]
				if !ok || answered[it.Term] || strings.TrimSpace(it.Translation) == "" {
					continue
				}
				answered[it.Term] = true
				if err := s.dictionary.SetTranslation(ctx, entryID, it.Translation); err != nil {
					logger.CtxWarn(ctx, "failed to store translation of %q: %v", it.Term, err)
					continue
				}
				filled++
			}
			// blank or absent in the reply
			for _, term := range chunk {
				if !answered[term] {
					missing = append(missing, term)
				}
			}
		}
		pending = missing
	}
	return filled, false
}

// Complete marks a document COMPLETED.
func (s *DocumentService) Complete(ctx context.Context, id string) (*model.PhaseResponse, error) {
	if _, err := s.machine.Transition(ctx, id, model.DocumentCompleted); err != nil {
		return nil, err
	}
	return &model.PhaseResponse{OK: true, Step: model.DocumentCompleted}, nil
}
