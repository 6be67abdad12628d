// Package apperr holds the error taxonomy shared by services and handlers.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation: missing or malformed input, rejected before any work is queued.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound: the referenced record or batch does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: the request collides with state that already exists.
	ErrConflict = errors.New("conflict")
	// ErrIllegalTransition: the document state machine rejected a move.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrUnsupportedFormat: the parser cannot structure this MIME type.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrPhaseFailed: a document phase failed and the document entered ERROR.
	ErrPhaseFailed = errors.New("phase failed")
	// ErrModel: the language model call failed or returned unusable output.
	ErrModel = errors.New("model call failed")
)

// Code is a client-facing error category.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeAI         Code = "AI_ERROR"
	CodeCanceled   Code = "CANCELED"
	CodeService    Code = "SERVICE_ERROR"
)

// Classify maps an error chain onto a Code.
func Classify(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPhaseFailed):
		// the document is already in ERROR; the cause is in the message
		return CodeService
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnsupportedFormat):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrModel):
		return CodeAI
	default:
		return CodeService
	}
}

// Validation wraps a message as a validation error.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps a resource name as a not-found error.
func NotFound(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}
