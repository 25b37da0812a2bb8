package errors

import (
	"fmt"
)

// CorporaError is the structured error type for corpora.
// It provides rich context for error handling, logging, and user presentation.
type CorporaError struct {
	// Code is the unique error code (e.g., "ERR_402_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *CorporaError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CorporaError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CorporaError.
func (e *CorporaError) Is(target error) bool {
	if t, ok := target.(*CorporaError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CorporaError) WithDetail(key, value string) *CorporaError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new CorporaError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CorporaError {
	return &CorporaError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new CorporaError with a formatted message.
func Newf(code string, format string, args ...any) *CorporaError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a CorporaError from an existing error.
// The error's message becomes the CorporaError message.
func Wrap(code string, err error) *CorporaError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *CorporaError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NotFoundError creates an error for a missing collection or remote repo.
func NotFoundError(message string) *CorporaError {
	return New(ErrCodeNotFound, message, nil)
}

// DimensionMismatchError creates a fatal dimension-mismatch error.
func DimensionMismatchError(expected, got int) *CorporaError {
	return Newf(ErrCodeDimensionMismatch,
		"dimension mismatch: collection expects %d, provider returned %d", expected, got)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a CorporaError with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CorporaError); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CorporaError); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CorporaError.
// Returns empty string if not a CorporaError.
func GetCode(err error) string {
	if ce, ok := err.(*CorporaError); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from a CorporaError.
// Returns empty string if not a CorporaError.
func GetCategory(err error) Category {
	if ce, ok := err.(*CorporaError); ok {
		return ce.Category
	}
	return ""
}
