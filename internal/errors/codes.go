// Package errors provides structured error handling for amanidx.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, lock)
//   - 4XX: Validation errors
//   - 5XX: Indexing and internal errors
package errors

// Category classifies an error by the subsystem that raised it.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryValidation Category = "VALIDATION"
	// CategoryIndexing covers failures raised while a job runs and the
	// gate refusing readers.
	CategoryIndexing Category = "INDEXING"
	CategoryInternal Category = "INTERNAL"
)

// Severity tells the indexing pipeline how to react to an error.
type Severity string

const (
	// SeverityFatal aborts the running job.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails the operation; the caller may continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning means degraded operation that is worth retrying.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo is expected, e.g. a cancelled job.
	SeverityInfo Severity = "INFO"
)

// Error codes.
const (
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull       = "ERR_203_DISK_FULL"
	ErrCodeFileTooLarge   = "ERR_204_FILE_TOO_LARGE"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodeFileInvalid    = "ERR_207_FILE_INVALID"
	ErrCodeLockBusy       = "ERR_208_LOCK_BUSY"

	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidPath  = "ERR_406_INVALID_PATH"

	ErrCodeInternal            = "ERR_501_INTERNAL"
	ErrCodeIndexFailed         = "ERR_505_INDEX_FAILED"
	ErrCodeProviderFailed      = "ERR_506_PROVIDER_FAILED"
	ErrCodeIndexNotReady       = "ERR_507_INDEX_NOT_READY"
	ErrCodeIndexingInterrupted = "ERR_508_INDEXING_INTERRUPTED"
	ErrCodeUnrecoverable       = "ERR_509_UNRECOVERABLE"
	ErrCodeRebuildLocked       = "ERR_510_REBUILD_LOCKED"
	ErrCodeProjectClosed       = "ERR_511_PROJECT_CLOSED"
)

type codeInfo struct {
	category  Category
	severity  Severity
	retryable bool
}

var codes = map[string]codeInfo{
	ErrCodeConfigNotFound: {CategoryConfig, SeverityError, false},
	ErrCodeConfigInvalid:  {CategoryConfig, SeverityError, false},

	ErrCodeFileNotFound:   {CategoryIO, SeverityError, false},
	ErrCodeFilePermission: {CategoryIO, SeverityError, false},
	ErrCodeDiskFull:       {CategoryIO, SeverityFatal, false},
	ErrCodeFileTooLarge:   {CategoryIO, SeverityError, false},
	ErrCodeCorruptIndex:   {CategoryIO, SeverityFatal, false},
	ErrCodeFileInvalid:    {CategoryIO, SeverityInfo, false},
	ErrCodeLockBusy:       {CategoryIO, SeverityWarning, true},

	ErrCodeInvalidInput: {CategoryValidation, SeverityError, false},
	ErrCodeInvalidPath:  {CategoryValidation, SeverityError, false},

	ErrCodeInternal:            {CategoryInternal, SeverityError, false},
	ErrCodeIndexFailed:         {CategoryIndexing, SeverityError, false},
	ErrCodeProviderFailed:      {CategoryIndexing, SeverityError, false},
	ErrCodeIndexNotReady:       {CategoryIndexing, SeverityWarning, true},
	ErrCodeIndexingInterrupted: {CategoryIndexing, SeverityInfo, false},
	ErrCodeUnrecoverable:       {CategoryIndexing, SeverityFatal, false},
	ErrCodeRebuildLocked:       {CategoryIndexing, SeverityWarning, true},
	ErrCodeProjectClosed:       {CategoryIndexing, SeverityInfo, false},
}

// lookup returns the classification of code. Unknown codes are internal
// errors.
func lookup(code string) codeInfo {
	if info, ok := codes[code]; ok {
		return info
	}
	return codeInfo{category: CategoryInternal, severity: SeverityError}
}
