package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"validation", Validation("batchId is required"), CodeValidation},
		{"unsupported format", fmt.Errorf("%w: pdf", ErrUnsupportedFormat), CodeValidation},
		{"not found", NotFound("unit"), CodeNotFound},
		{"illegal transition", fmt.Errorf("%w: WAITING -> COMPLETED", ErrIllegalTransition), CodeConflict},
		{"live batch", fmt.Errorf("%w: batch b-1 is still active", ErrConflict), CodeConflict},
		{"model", fmt.Errorf("%w: empty output", ErrModel), CodeAI},
		{"deadline", fmt.Errorf("stage: %w", context.DeadlineExceeded), CodeCanceled},
		{"phase failed wins", fmt.Errorf("%w: %w", ErrPhaseFailed, Validation("no parse result")), CodeService},
		{"other", errors.New("connection reset"), CodeService},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
