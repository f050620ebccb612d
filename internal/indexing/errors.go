package indexing

import (
	"fmt"

	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
)

// ErrUnrecoverable can be returned by a provider to abort the run.
var ErrUnrecoverable = amanerrors.ErrUnrecoverable

// InterruptedError is returned when a run is cancelled. Statistics cover
// exactly the files completed before the cancellation was observed.
type InterruptedError struct {
	Statistics *Statistics
	Cause      error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("indexing interrupted after %d files: %v", e.Statistics.Files, e.Cause)
}

// Unwrap returns the cancellation cause (context.Canceled,
// progress.ErrCanceled, ...).
func (e *InterruptedError) Unwrap() error { return e.Cause }

// Is matches the interruption sentinel of the errors package.
func (e *InterruptedError) Is(target error) bool {
	t, ok := target.(*amanerrors.AmanError)
	return ok && t.Code == amanerrors.ErrCodeIndexingInterrupted
}

// UnrecoverableError is returned when a failure aborted the run.
type UnrecoverableError struct {
	Statistics *Statistics
	Cause      error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("indexing aborted: %v", e.Cause)
}

func (e *UnrecoverableError) Unwrap() error { return e.Cause }

func (e *UnrecoverableError) Is(target error) bool {
	t, ok := target.(*amanerrors.AmanError)
	return ok && t.Code == amanerrors.ErrCodeUnrecoverable
}
