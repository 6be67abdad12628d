package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/repository"
)

func newUnitService(t *testing.T) (*UnitService, *gorm.DB) {
	t.Helper()
	db := openDB(t)
	svc := NewUnitService(repository.NewUnitRepository(db), repository.NewStageRecordRepository(db))
	// records created in one test share a clock tick otherwise
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return svc, db
}

func seedUnits(t *testing.T, db *gorm.DB, docID string, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		u := model.Unit{
			ID:         uuid.New().String(),
			DocumentID: docID,
			Order:      i + 1,
			SourceText: fmt.Sprintf("Sentence %d.", i+1),
			Status:     model.StageNotStarted,
			Type:       model.UnitTypeText,
		}
		require.NoError(t, db.Create(&u).Error)
		ids[i] = u.ID
	}
	return ids
}

func TestUnitListPaging(t *testing.T) {
	svc, db := newUnitService(t)
	seedUnits(t, db, "doc-1", 7)
	seedUnits(t, db, "doc-2", 1)

	testCases := []struct {
		name     string
		page     int
		pageSize int
		wantLen  int
		wantSize int
		wantPage int
	}{
		{"defaults", 0, 0, 7, DefaultPageSize, 1},
		{"second page", 2, 3, 3, 3, 2},
		{"last page", 3, 3, 1, 3, 3},
		{"past the end", 9, 3, 0, 3, 9},
		{"clamped size", 1, 10000, 7, MaxPageSize, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.List(context.Background(), "doc-1", tc.page, tc.pageSize)
			require.NoError(t, err)
			assert.EqualValues(t, 7, res.Total)
			assert.Len(t, res.Items, tc.wantLen)
			assert.Equal(t, tc.wantSize, res.PageSize)
			assert.Equal(t, tc.wantPage, res.Page)
		})
	}

	res, err := svc.List(context.Background(), "doc-1", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Items[0].Order)
}

func TestUnitSaveRecordsUserEdit(t *testing.T) {
	svc, db := newUnitService(t)
	ctx := context.Background()
	id := seedUnits(t, db, "doc-1", 1)[0]

	text := "Frase 1."
	locked := true
	u, err := svc.Save(ctx, id, "user-1", &model.SaveUnitRequest{TargetText: &text, Locked: &locked})
	require.NoError(t, err)
	assert.Equal(t, "Frase 1.", u.TargetText)
	assert.True(t, u.Locked)

	trail, err := svc.ListTransitions(ctx, id)
	require.NoError(t, err)
	require.Len(t, trail.Records, 1)
	assert.Equal(t, model.ActorUser, trail.Records[0].ActorType)
	assert.Equal(t, "user-1", trail.Records[0].ActorID)

	_, err = svc.Save(ctx, "missing", "user-1", &model.SaveUnitRequest{TargetText: &text})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAdvanceAndGoBack(t *testing.T) {
	svc, db := newUnitService(t)
	ctx := context.Background()
	id := seedUnits(t, db, "doc-1", 1)[0]

	_, err := svc.AdvanceStage(ctx, id, "", &model.AdvanceStageRequest{Stage: model.StageMT, ActorType: model.ActorAgent, Model: "m-1"})
	require.NoError(t, err)
	_, err = svc.AdvanceStage(ctx, id, "user-1", &model.AdvanceStageRequest{Stage: model.StageMTReview})
	require.NoError(t, err)

	u, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StageMTReview, u.Status)

	rev, err := svc.GoToPrevious(ctx, id, "user-1", model.StageMTReview)
	require.NoError(t, err)
	assert.Equal(t, model.StepReverted, rev.Status)
	assert.NotEmpty(t, rev.RevertsID)

	u, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StageMT, u.Status)

	trail, err := svc.ListTransitions(ctx, id)
	require.NoError(t, err)
	require.Len(t, trail.Records, 3, "history is kept")
	assert.Equal(t, model.StageMT, trail.Records[0].StepKey)
	assert.Equal(t, "m-1", trail.Records[0].Model)
	assert.Equal(t, trail.Records[1].ID, trail.Records[2].RevertsID)

	// nothing live is left for MT_REVIEW
	_, err = svc.GoToPrevious(ctx, id, "user-1", model.StageMTReview)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUnitStageValidation(t *testing.T) {
	svc, db := newUnitService(t)
	ctx := context.Background()
	id := seedUnits(t, db, "doc-1", 1)[0]

	testCases := []struct {
		name string
		run  func() error
	}{
		{"advance", func() error {
			_, err := svc.AdvanceStage(ctx, id, "", &model.AdvanceStageRequest{Stage: "NOPE"})
			return err
		}},
		{"go back", func() error {
			_, err := svc.GoToPrevious(ctx, id, "", "NOPE")
			return err
		}},
		{"record", func() error {
			_, err := svc.RecordTransition(ctx, id, "NOPE", model.ActorUser, "", model.StepSuccess)
			return err
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.run(), apperr.ErrValidation)
		})
	}

	rec, err := svc.RecordTransition(ctx, id, model.StageQA, model.ActorAgent, "", model.StepStarted)
	require.NoError(t, err)
	assert.Nil(t, rec.FinishedAt)
}
