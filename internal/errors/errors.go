package errors

import (
	stderrors "errors"
	"fmt"
)

// AmanError is the structured error of amanidx. Jobs use its severity to
// decide between recording a file failure and aborting, the MCP server
// maps its code to a protocol error.
type AmanError struct {
	Code     string
	Message  string
	Category Category
	Severity Severity
	Details  map[string]string
	Cause    error
	// Retryable is set for contention that goes away on its own: a busy
	// lock or a rebuild in progress.
	Retryable  bool
	Suggestion string
}

func (e *AmanError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is matches another AmanError by code, so errors.Is works against the
// sentinel values below.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates an AmanError classified by its code.
func New(code string, message string, cause error) *AmanError {
	info := lookup(code)
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  info.category,
		Severity:  info.severity,
		Cause:     cause,
		Retryable: info.retryable,
	}
}

// Wrap creates an AmanError from an existing error.
// The error's message becomes the AmanError message.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is comparisons. They match any AmanError with the
// same code.
var (
	ErrIndexNotReady = New(ErrCodeIndexNotReady, "index is being rebuilt", nil)
	ErrInterrupted   = New(ErrCodeIndexingInterrupted, "indexing interrupted", nil)
	ErrUnrecoverable = New(ErrCodeUnrecoverable, "unrecoverable indexing failure", nil)
	ErrRebuildLocked = New(ErrCodeRebuildLocked, "another process is rebuilding this index", nil)
	ErrProjectClosed = New(ErrCodeProjectClosed, "project is closed", nil)
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ProviderError reports a per-file provider failure. The indexing run
// records it and moves on to the next file.
func ProviderError(provider, path string, cause error) *AmanError {
	return New(ErrCodeProviderFailed, fmt.Sprintf("%s failed on %s", provider, path), cause).
		WithDetail("provider", provider).
		WithDetail("path", path)
}

// UnrecoverableError reports a failure that must abort the indexing run.
func UnrecoverableError(message string, cause error) *AmanError {
	return New(ErrCodeUnrecoverable, message, cause).
		WithSuggestion("Run 'amanidx index --force' to rebuild the index from scratch")
}

// IsRetryable reports whether err's chain holds a retryable AmanError.
func IsRetryable(err error) bool {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal reports whether err must abort the running job.
func IsFatal(err error) bool {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// IsInterrupted reports whether err carries the interruption code.
func IsInterrupted(err error) bool {
	return stderrors.Is(err, ErrInterrupted)
}

// GetCode returns the code of the first AmanError in err's chain, or "".
func GetCode(err error) string {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
