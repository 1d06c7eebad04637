package pipeline

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/andresuchdata/medallion-etl/internal/storage"
	"github.com/andresuchdata/medallion-etl/internal/table"
)

// ErrEmptyInput is matched by StageErrors caused by a file without data rows.
var ErrEmptyInput = table.ErrEmptyInput

// FailureKind classifies why a stage failed.
type FailureKind string

const (
	KindFileNotFound   FailureKind = "file_not_found"
	KindStorageAccess  FailureKind = "storage_access"
	KindEmptyInput     FailureKind = "empty_input"
	KindMalformedInput FailureKind = "malformed_input"
	KindInternal       FailureKind = "internal"
)

// StageError is the typed failure every stage returns.
type StageError struct {
	Stage Stage
	Kind  FailureKind
	File  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed for %s (%s): %v", e.Stage, e.File, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// AsStageError extracts the StageError from err's chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// stageFailure wraps err into a StageError, classifying it from its chain.
func stageFailure(stage Stage, file string, err error) *StageError {
	if se, ok := AsStageError(err); ok {
		return se
	}
	return &StageError{
		Stage: stage,
		Kind:  classify(err),
		File:  file,
		Err:   err,
	}
}

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, table.ErrEmptyInput):
		return KindEmptyInput
	case errors.Is(err, table.ErrMalformedInput):
		return KindMalformedInput
	case errors.Is(err, storage.ErrAccessDenied), errors.Is(err, storage.ErrUnavailable):
		return KindStorageAccess
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, storage.ErrObjectNotFound):
		return KindFileNotFound
	default:
		return KindInternal
	}
}
