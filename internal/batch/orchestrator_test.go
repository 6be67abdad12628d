package batch

import (
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/transflow/api/internal/docstate"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/progress"
	"github.com/transflow/api/internal/repository"
)

type enqueued struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeQueue struct {
	mu       sync.Mutex
	tasks    []enqueued
	conflict map[string]bool
	fail     map[string]bool
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	var p model.UnitJobPayload
	_ = json.Unmarshal(task.Payload(), &p)
	if q.fail[p.ID] {
		return nil, fmt.Errorf("broker down")
	}
	if q.conflict[p.ID] {
		return nil, asynq.ErrTaskIDConflict
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, enqueued{task: task, opts: opts})
	return &asynq.TaskInfo{ID: p.ID}, nil
}

func (q *fakeQueue) payloads(t *testing.T) []model.UnitJobPayload {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.UnitJobPayload, len(q.tasks))
	for i, e := range q.tasks {
		require.NoError(t, json.Unmarshal(e.task.Payload(), &out[i]))
	}
	return out
}

type fakeMemory struct {
	pairs []model.MemoryPair
}

func (m *fakeMemory) Remember(_ context.Context, pairs []model.MemoryPair) (int, error) {
	m.pairs = append(m.pairs, pairs...)
	return len(pairs), nil
}

type fixture struct {
	db     *gorm.DB
	rdb    *redis.Client
	store  *progress.Store
	queue  *fakeQueue
	memory *fakeMemory
	orch   *Orchestrator
	doc    *model.Document
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	docs := repository.NewDocumentRepository(db)
	doc := &model.Document{ID: uuid.New().String(), URL: "uploads/a.docx", Status: model.DocumentPreprocessed}
	require.NoError(t, docs.Create(context.Background(), doc))

	f := &fixture{
		db:     db,
		rdb:    rdb,
		store:  progress.NewStore(rdb, time.Hour),
		queue:  &fakeQueue{conflict: map[string]bool{}, fail: map[string]bool{}},
		memory: &fakeMemory{},
		doc:    doc,
	}
	f.orch = NewOrchestrator(f.store, f.queue,
		repository.NewUnitRepository(db),
		repository.NewStageRecordRepository(db),
		docstate.NewMachine(docs),
		f.memory,
		Config{MaxRetry: 2},
	)
	return f
}

func (f *fixture) addUnit(t *testing.T, order int, source, target string) string {
	t.Helper()
	u := model.Unit{
		ID:         uuid.New().String(),
		DocumentID: f.doc.ID,
		Order:      order,
		SourceText: source,
		TargetText: target,
		Status:     model.StageNotStarted,
		Type:       model.UnitTypeText,
	}
	require.NoError(t, f.db.Create(&u).Error)
	return u.ID
}

func TestStartFiltersByPhase(t *testing.T) {
	testCases := []struct {
		name  string
		phase model.Phase
		want  int64
	}{
		{"pretranslate needs source", model.PhasePreTranslate, 2},
		{"qa accepts either side", model.PhaseQA, 3},
		{"postedit needs source", model.PhasePostEdit, 2},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ids := []string{
				f.addUnit(t, 1, "Hello.", ""),
				f.addUnit(t, 2, "  ", "Bonjour."),
				f.addUnit(t, 3, "", ""),
				f.addUnit(t, 4, "World.", "Monde."),
			}

			res, err := f.orch.Start(context.Background(), tc.phase, StartRequest{BatchID: "b-1", ItemIDs: ids})
			require.NoError(t, err)
			assert.Equal(t, "b-1", res.BatchID)
			assert.Equal(t, tc.want, res.Total)
			assert.Len(t, f.queue.payloads(t), int(tc.want))

			p, err := f.orch.Progress(context.Background(), tc.phase, "b-1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Total)
			assert.Zero(t, p.Done)
		})
	}
}

func TestStartBuildsTasks(t *testing.T) {
	f := newFixture(t)
	id := f.addUnit(t, 1, "Hello.", "")

	res, err := f.orch.Start(context.Background(), model.PhasePreTranslate, StartRequest{
		ItemIDs: []string{id, id, " "},
		Options: model.BatchOptions{SourceLanguage: "en", TargetLanguage: "fr", Prompt: "formal"},
		UserID:  "user-1",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^\d+-[0-9a-f]{8}$`, res.BatchID)
	assert.EqualValues(t, 1, res.Total)

	f.queue.mu.Lock()
	require.Len(t, f.queue.tasks, 1)
	task := f.queue.tasks[0].task
	f.queue.mu.Unlock()
	assert.Equal(t, TaskTypeUnitPreTranslate, task.Type())

	payloads := f.queue.payloads(t)
	assert.Equal(t, res.BatchID, payloads[0].BatchID)
	assert.Equal(t, "Hello.", payloads[0].Text)
	assert.Equal(t, "fr", payloads[0].TargetLanguage)
	assert.Equal(t, "formal", payloads[0].Prompt)
	assert.Equal(t, "user-1", payloads[0].UserID)

	var doc model.Document
	require.NoError(t, f.db.First(&doc, "id = ?", f.doc.ID).Error)
	assert.Equal(t, model.DocumentTranslating, doc.Status)
}

func TestStartEdgeCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Start(ctx, model.PhaseQA, StartRequest{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.orch.Start(ctx, model.PhaseQA, StartRequest{BatchID: "bad.id", ItemIDs: []string{"x"}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	blank := f.addUnit(t, 1, "", "")
	res, err := f.orch.Start(ctx, model.PhaseQA, StartRequest{BatchID: "empty", ItemIDs: []string{blank}})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Empty(t, f.queue.payloads(t))
}

func TestStartTreatsDuplicateTaskAsQueued(t *testing.T) {
	f := newFixture(t)
	a := f.addUnit(t, 1, "One.", "")
	b := f.addUnit(t, 2, "Two.", "")
	c := f.addUnit(t, 3, "Three.", "")
	f.queue.conflict[a] = true
	f.queue.fail[c] = true

	res, err := f.orch.Start(context.Background(), model.PhasePreTranslate, StartRequest{BatchID: "dup", ItemIDs: []string{a, b, c}})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Total)

	p, err := f.orch.Progress(context.Background(), model.PhasePreTranslate, "dup")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Failed, "the unit that could not be queued is counted as failed")
}

func (q *fakeQueue) taskIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	for _, e := range q.tasks {
		for _, opt := range e.opts {
			if opt.Type() == asynq.TaskIDOpt {
				ids = append(ids, opt.Value().(string))
			}
		}
	}
	return ids
}

func TestStartRejectsLiveBatchID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.addUnit(t, 1, "Hello.", "")
	req := StartRequest{BatchID: "again", ItemIDs: []string{id}}
	bt := progress.For(model.PhasePreTranslate, "again")

	_, err := f.orch.Start(ctx, model.PhasePreTranslate, req)
	require.NoError(t, err)
	counted, err := f.store.Account(ctx, bt, id, true)
	require.NoError(t, err)
	require.True(t, counted)

	_, err = f.orch.Start(ctx, model.PhasePreTranslate, req)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, apperr.CodeConflict, apperr.Classify(err))
	p, err := f.orch.Progress(ctx, model.PhasePreTranslate, "again")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Done, "the live run keeps its counters")

	// once purged the id runs again and reaches total
	_, err = f.store.Purge(ctx, bt)
	require.NoError(t, err)
	_, err = f.orch.Start(ctx, model.PhasePreTranslate, req)
	require.NoError(t, err)
	counted, err = f.store.Account(ctx, bt, id, true)
	require.NoError(t, err)
	assert.True(t, counted)
	p, err = f.orch.Progress(ctx, model.PhasePreTranslate, "again")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Total)
	assert.EqualValues(t, 1, p.Done)

	ids := f.queue.taskIDs()
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1], "each run enqueues under its own task id")
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.addUnit(t, 1, "Hello.", "")
	_, err := f.orch.Start(ctx, model.PhaseQA, StartRequest{BatchID: "c-1", ItemIDs: []string{id}})
	require.NoError(t, err)

	require.NoError(t, f.orch.Cancel(ctx, model.PhaseQA, "c-1"))
	canceled, err := f.store.IsCanceled(ctx, progress.For(model.PhaseQA, "c-1"))
	require.NoError(t, err)
	assert.True(t, canceled)

	other, err := f.store.IsCanceled(ctx, progress.For(model.PhasePreTranslate, "c-1"))
	require.NoError(t, err)
	assert.False(t, other, "phases do not share keys")
}

func TestPersist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addUnit(t, 1, "Hello.", "")
	b := f.addUnit(t, 2, "World.", "")
	locked := f.addUnit(t, 3, "Fixed.", "Fixé.")
	require.NoError(t, f.db.Model(&model.Unit{}).Where("id = ?", locked).Update("locked", true).Error)

	_, err := f.orch.Start(ctx, model.PhasePreTranslate, StartRequest{BatchID: "p-1", ItemIDs: []string{a, b, locked}})
	require.NoError(t, err)

	bt := progress.For(model.PhasePreTranslate, "p-1")
	require.NoError(t, f.store.PutItem(ctx, bt, a, model.UnitResult{ID: a, Translation: "Bonjour.", Model: "m-1", TargetLanguage: "fr"}))
	require.NoError(t, f.store.PutItem(ctx, bt, locked, model.UnitResult{ID: locked, Translation: "Autre."}))
	require.NoError(t, f.rdb.Set(ctx, "bt.p-1.item."+b, "{not json", time.Hour).Err())

	res, err := f.orch.Persist(ctx, model.PhasePreTranslate, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	var unit model.Unit
	require.NoError(t, f.db.First(&unit, "id = ?", a).Error)
	assert.Equal(t, "Bonjour.", unit.TargetText)
	assert.Equal(t, model.StageMT, unit.Status)

	var records []model.StageRecord
	require.NoError(t, f.db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, a, *records[0].UnitID)
	assert.Equal(t, model.StageMT, records[0].StepKey)
	assert.Equal(t, model.ActorAgent, records[0].ActorType)
	assert.Equal(t, model.StepSuccess, records[0].Status)
	assert.Equal(t, "m-1", records[0].Model)

	require.Len(t, f.memory.pairs, 1)
	assert.Equal(t, "Hello.", f.memory.pairs[0].Source)
	assert.Equal(t, "Bonjour.", f.memory.pairs[0].Target)
	assert.Equal(t, "fr", f.memory.pairs[0].TargetLanguage)

	keys, err := f.rdb.Keys(ctx, "bt.p-1.*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)

	again, err := f.orch.Persist(ctx, model.PhasePreTranslate, "p-1")
	require.NoError(t, err)
	assert.Zero(t, again.Updated)
}

func TestPersistEmptyBatch(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.Persist(context.Background(), model.PhaseQA, "missing")
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
}
