// Package errors provides structured error handling for corpora.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, index artifacts)
//   - 3XX: Network and provider errors (transient)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Sync/distribution errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network and embedding-provider errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategorySync indicates publish/fetch distribution errors.
	CategorySync Category = "SYNC"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodeLockHeld       = "ERR_206_LOCK_HELD"

	// Network/provider errors (300-399, transient except auth)
	ErrCodeNetworkTimeout      = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable  = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeProviderUnavailable = "ERR_303_PROVIDER_UNAVAILABLE"
	ErrCodeProviderRateLimited = "ERR_304_PROVIDER_RATE_LIMITED"
	ErrCodeProviderAuth        = "ERR_305_PROVIDER_AUTH"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeInvalidPath       = "ERR_406_INVALID_PATH"
	ErrCodeDuplicateDocKey   = "ERR_407_DUPLICATE_DOC_KEY"

	// Internal errors (500-599)
	ErrCodeInternal          = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed   = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed      = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed       = "ERR_505_INDEX_FAILED"
	ErrCodeIndexInconsistent = "ERR_506_INDEX_INCONSISTENT"

	// Sync errors (600-699)
	ErrCodeSyncNetwork  = "ERR_601_SYNC_NETWORK"
	ErrCodeSyncChecksum = "ERR_602_SYNC_CHECKSUM"
	ErrCodeSyncConflict = "ERR_603_SYNC_CONFLICT"
	ErrCodeNotFound     = "ERR_604_NOT_FOUND"
	ErrCodeSyncAuth     = "ERR_605_SYNC_AUTH"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "402" from "ERR_402_DIMENSION_MISMATCH"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '6':
		return CategorySync
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDimensionMismatch, ErrCodeProviderAuth:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable,
		ErrCodeProviderUnavailable, ErrCodeProviderRateLimited,
		ErrCodeSyncNetwork:
		return true
	default:
		return false
	}
}
