package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/batch"
	"github.com/transflow/api/internal/docstate"
	"github.com/transflow/api/internal/jobcancel"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/progress"
	"github.com/transflow/api/internal/repository"
)

type fakeStorage struct {
	objects map[string][]byte
}

func (f *fakeStorage) PresignPut(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://storage.test/put/" + key, nil
}

func (f *fakeStorage) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/get/" + key, nil
}

func (f *fakeStorage) Download(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (f *fakeStorage) Upload(_ context.Context, key string, body io.Reader, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

type captureQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *captureQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{}, nil
}

// scriptedTranslator answers from a queue of replies per term. A term with
// no reply left comes back blank; a term in omit is left out of the next reply.
type scriptedTranslator struct {
	mu      sync.Mutex
	replies map[string][]string
	omit    map[string]bool
	calls   int
	hook    func(ctx context.Context) error
}

func (f *scriptedTranslator) Translate(ctx context.Context, terms []string, _, _, _ string) ([]model.DictEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]model.DictEntry, 0, len(terms))
	for _, term := range terms {
		if f.omit[term] {
			delete(f.omit, term)
			continue
		}
		e := model.DictEntry{Term: term}
		if r := f.replies[term]; len(r) > 0 {
			e.Translation = r[0]
			f.replies[term] = r[1:]
		}
		out = append(out, e)
	}
	return out, nil
}

type docEnv struct {
	db         *gorm.DB
	store      *progress.Store
	storage    *fakeStorage
	queue      *captureQueue
	translator *scriptedTranslator
	jobs       *jobcancel.Registry
	svc        *DocumentService
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newDocEnv(t *testing.T) *docEnv {
	t.Helper()
	db := openDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	e := &docEnv{
		db:         db,
		store:      progress.NewStore(rdb, time.Hour),
		storage:    &fakeStorage{objects: map[string][]byte{}},
		queue:      &captureQueue{},
		translator: &scriptedTranslator{replies: map[string][]string{}},
		jobs:       jobcancel.New(),
	}
	docs := repository.NewDocumentRepository(db)
	e.svc = NewDocumentService(
		docs,
		repository.NewUnitRepository(db),
		repository.NewDictionaryRepository(db),
		docstate.NewMachine(docs),
		e.store,
		e.storage,
		e.queue,
		e.translator,
		e.jobs,
		DocumentConfig{MaxRetry: 2},
	)
	return e
}

func (e *docEnv) register(t *testing.T, key string, body string) *model.Document {
	t.Helper()
	e.storage.objects[key] = []byte(body)
	doc, err := e.svc.Register(context.Background(), &model.RegisterDocumentRequest{URL: key}, model.DictionaryScope{TenantID: "t-1", ProjectID: "p-1"})
	require.NoError(t, err)
	return doc
}

func (e *docEnv) status(t *testing.T, id string) model.DocumentStatus {
	t.Helper()
	doc, err := e.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return doc.Status
}

func TestDocumentPipeline(t *testing.T) {
	e := newDocEnv(t)
	ctx := context.Background()
	doc := e.register(t, "uploads/u-1/x/guide.txt", "Open the ledger.\n\nCheck every invoice.\nSign it.")
	assert.Equal(t, model.DocumentWaiting, doc.Status)
	assert.Equal(t, "guide.txt", doc.Name)
	assert.Equal(t, "p-1", doc.ProjectID)

	parsed, err := e.svc.Parse(ctx, doc.ID, &model.ParseRequest{BatchID: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, parsed.Paragraphs)
	assert.Contains(t, parsed.Preview, "Open the ledger.")
	assert.Equal(t, model.DocumentParsing, e.status(t, doc.ID))

	preview, err := e.svc.Segment(ctx, doc.ID, &model.SegmentRequest{Preview: true, MaxParas: 1})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", preview.BatchID, "batch id is taken from the document")
	assert.NotEmpty(t, preview.Segments)
	assert.Equal(t, model.DocumentParsing, e.status(t, doc.ID), "preview leaves the status alone")

	seg, err := e.svc.Segment(ctx, doc.ID, &model.SegmentRequest{})
	require.NoError(t, err)
	assert.Equal(t, 4, seg.Count, "title plus three paragraphs")
	assert.Equal(t, model.DocumentSegmenting, e.status(t, doc.ID))

	terms, err := e.svc.StartTerms(ctx, doc.ID, &model.TermsRequest{}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.TermsRunning, terms.Status)
	require.Len(t, e.queue.tasks, 1)
	assert.Equal(t, batch.TaskTypeDocumentTerms, e.queue.tasks[0].Type())
	assert.Equal(t, model.DocumentTermsExtracting, e.status(t, doc.ID))

	got, err := e.svc.Terms(ctx, doc.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.TermsRunning, got.Status)
	assert.Empty(t, got.Terms)

	// what the terms worker leaves behind
	b := progress.Batch{NS: model.NamespaceDocTerms, ID: "doc-1"}
	require.NoError(t, e.store.PutArtifact(ctx, b, model.ArtifactTerms, []model.TermCandidate{{Term: "ledger"}, {Term: "invoice"}}))
	require.NoError(t, e.store.PutArtifact(ctx, b, model.ArtifactTermsStatus, model.TermsJobStatus{Status: model.TermsDone}))

	got, err = e.svc.Terms(ctx, doc.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.TermsDone, got.Status)
	assert.Len(t, got.Terms, 2)

	e.translator.replies["invoice"] = []string{"factura"}
	e.translator.replies["ledger"] = []string{"", "libro mayor"}

	applied, err := e.svc.Apply(ctx, doc.ID, &model.ApplyTermsRequest{AutoTranslate: true, TargetLanguage: "es"}, model.DictionaryScope{})
	require.NoError(t, err)
	assert.Equal(t, "project:p-1", applied.DictionaryID)
	assert.Equal(t, 2, applied.Inserted)
	assert.Equal(t, 2, applied.Updated)
	assert.False(t, applied.Canceled)
	assert.Equal(t, 2, e.translator.calls, "skipped terms get a second pass")
	assert.Equal(t, model.DocumentPreprocessed, e.status(t, doc.ID))
	assert.Zero(t, e.jobs.Len())

	var entries []model.DictionaryEntry
	require.NoError(t, e.db.Order("term").Find(&entries, "dictionary_id = ?", "project:p-1").Error)
	require.Len(t, entries, 2)
	assert.Equal(t, "factura", entries[0].Translation)
	assert.Equal(t, "libro mayor", entries[1].Translation)
	assert.Equal(t, "t-1", entries[0].TenantID)

	done, err := e.svc.Complete(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentCompleted, done.Step)
}

func TestApplyAutoTranslateCanceled(t *testing.T) {
	e := newDocEnv(t)
	ctx := context.Background()
	doc := e.register(t, "uploads/u-1/x/a.txt", "Body.")
	require.NoError(t, e.db.Model(&model.Document{}).Where("id = ?", doc.ID).Update("status", model.DocumentTermsExtracting).Error)

	e.translator.hook = func(ctx context.Context) error {
		e.jobs.Cancel("job-1")
		return ctx.Err()
	}

	res, err := e.svc.Apply(ctx, doc.ID, &model.ApplyTermsRequest{
		Terms:         []model.DictEntry{{Term: "alpha"}, {Term: "beta"}},
		AutoTranslate: true,
		JobID:         "job-1",
	}, model.DictionaryScope{})
	require.NoError(t, err)
	assert.True(t, res.Canceled)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, model.DocumentPreprocessed, e.status(t, doc.ID))
	assert.Zero(t, e.jobs.Len())
}

func TestAutoTranslateRetriesOmittedTerms(t *testing.T) {
	e := newDocEnv(t)
	ctx := context.Background()
	for _, term := range []string{"audit", "invoice", "ledger"} {
		require.NoError(t, e.db.Create(&model.DictionaryEntry{
			ID:           uuid.New().String(),
			DictionaryID: "project:p-9",
			Term:         term,
		}).Error)
	}
	e.translator.replies["audit"] = []string{"auditoría"}
	e.translator.replies["invoice"] = []string{"factura"}
	e.translator.replies["ledger"] = []string{"libro mayor"}
	e.translator.omit = map[string]bool{"ledger": true}

	filled, canceled := e.svc.autoTranslate(ctx, "project:p-9", &model.ApplyTermsRequest{TargetLanguage: "es"})
	assert.False(t, canceled)
	assert.Equal(t, 3, filled)
	assert.Equal(t, 2, e.translator.calls, "the omitted term is asked again")

	var entry model.DictionaryEntry
	require.NoError(t, e.db.First(&entry, "dictionary_id = ? AND term = ?", "project:p-9", "ledger").Error)
	assert.Equal(t, "libro mayor", entry.Translation)
}

func TestDocumentPhaseFailures(t *testing.T) {
	testCases := []struct {
		name    string
		run     func(e *docEnv, id string) error
		wantErr error
	}{
		{
			name: "unreadable pdf",
			run: func(e *docEnv, id string) error {
				e.storage.objects["uploads/u-1/x/report.pdf"] = []byte("%PDF")
				require.NoError(t, e.db.Model(&model.Document{}).Where("id = ?", id).
					Updates(map[string]interface{}{"url": "uploads/u-1/x/report.pdf", "name": "report.pdf", "mime_type": "application/pdf"}).Error)
				_, err := e.svc.Parse(context.Background(), id, &model.ParseRequest{})
				return err
			},
			wantErr: apperr.ErrUnsupportedFormat,
		},
		{
			name: "segment before parse",
			run: func(e *docEnv, id string) error {
				_, err := e.svc.Segment(context.Background(), id, &model.SegmentRequest{BatchID: "never-parsed"})
				return err
			},
			wantErr: apperr.ErrValidation,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newDocEnv(t)
			doc := e.register(t, "uploads/u-1/x/a.txt", "Body.")

			err := tc.run(e, doc.ID)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrPhaseFailed)
			assert.ErrorIs(t, err, tc.wantErr)

			stored, err := e.svc.Get(context.Background(), doc.ID)
			require.NoError(t, err)
			assert.Equal(t, model.DocumentError, stored.Status)
			assert.NotEmpty(t, stored.Error)
		})
	}
}

func TestDocumentIllegalTransition(t *testing.T) {
	e := newDocEnv(t)
	ctx := context.Background()
	doc := e.register(t, "uploads/u-1/x/a.txt", "Body.")
	_, err := e.svc.Complete(ctx, doc.ID)
	require.NoError(t, err)

	_, err = e.svc.Parse(ctx, doc.ID, &model.ParseRequest{})
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)
	assert.Equal(t, model.DocumentCompleted, e.status(t, doc.ID), "a rejected entry leaves the document alone")
}
