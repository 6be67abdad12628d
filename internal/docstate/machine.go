// Package docstate governs which pipeline phase a document may enter.
package docstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
)

var rank = map[model.DocumentStatus]int{
	model.DocumentWaiting:         0,
	model.DocumentParsing:         1,
	model.DocumentSegmenting:      2,
	model.DocumentTermsExtracting: 3,
	model.DocumentPreprocessed:    4,
	model.DocumentTranslating:     5,
	model.DocumentCompleted:       6,
}

// CanTransition reports whether a document in from may move to to.
func CanTransition(from, to model.DocumentStatus) bool {
	// COMPLETED and ERROR are terminal
	if from == model.DocumentCompleted || from == model.DocumentError {
		return false
	}
	if to == model.DocumentError {
		_, known := rank[from]
		return known
	}

	fr, ok := rank[from]
	if !ok {
		return false
	}
	tr, ok := rank[to]
	if !ok {
		return false
	}
	if tr >= fr {
		return true
	}
	// re-segmentation replaces units and restarts preprocessing
	return to == model.DocumentSegmenting &&
		(from == model.DocumentTermsExtracting || from == model.DocumentPreprocessed)
}

// Editable reports whether the editor may open a document in status s.
func Editable(s model.DocumentStatus) bool {
	switch s {
	case model.DocumentPreprocessed, model.DocumentTranslating, model.DocumentCompleted:
		return true
	}
	return false
}

// Store is the persistence the machine needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*model.Document, error)
	// CompareAndSetStatus moves id from one status to another and records
	// errMsg. It fails with apperr.ErrIllegalTransition when the stored
	// status is no longer from.
	CompareAndSetStatus(ctx context.Context, id string, from, to model.DocumentStatus, errMsg string) error
}

// Machine applies transitions to stored documents.
type Machine struct {
	store Store
}

func NewMachine(store Store) *Machine {
	return &Machine{store: store}
}

// Transition moves a document to status to.
func (m *Machine) Transition(ctx context.Context, docID string, to model.DocumentStatus) (*model.Document, error) {
	return m.transition(ctx, docID, to, "")
}

func (m *Machine) transition(ctx context.Context, docID string, to model.DocumentStatus, errMsg string) (*model.Document, error) {
	doc, err := m.store.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(doc.Status, to) {
		return doc, fmt.Errorf("%w: %s -> %s", apperr.ErrIllegalTransition, doc.Status, to)
	}
	if err := m.store.CompareAndSetStatus(ctx, docID, doc.Status, to, errMsg); err != nil {
		return doc, err
	}
	logger.CtxInfo(ctx, "document %s: %s -> %s", docID, doc.Status, to)
	doc.Status = to
	doc.Error = errMsg
	return doc, nil
}

// Run brackets one document phase: it enters phase, runs fn and, when fn
// fails, moves the document to ERROR with the failure message. The entry
// check rejects illegal phases before fn runs.
func (m *Machine) Run(ctx context.Context, docID string, phase model.DocumentStatus, fn func(ctx context.Context, doc *model.Document) error) error {
	ctx = logger.SetDocumentID(ctx, docID)
	doc, err := m.Transition(ctx, docID, phase)
	if err != nil {
		return err
	}

	if runErr := fn(ctx, doc); runErr != nil {
		msg := runErr.Error()
		if _, err := m.transition(context.WithoutCancel(ctx), docID, model.DocumentError, msg); err != nil {
			logger.CtxError(ctx, "failed to record phase failure: %v", err)
		}
		logger.CtxError(ctx, "phase %s failed: %v", phase, runErr)
		if errors.Is(runErr, apperr.ErrPhaseFailed) {
			return runErr
		}
		return fmt.Errorf("%w: %w", apperr.ErrPhaseFailed, runErr)
	}
	return nil
}

// Fail moves a document to ERROR and records cause. Used by phases that
// finish outside the request that started them.
func (m *Machine) Fail(ctx context.Context, docID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := m.transition(ctx, docID, model.DocumentError, msg)
	return err
}
