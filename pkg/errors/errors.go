// Package errors provides structured error handling for RentFlow.
// Errors carry a code, contextual key/values, and a cause chain so the
// pipeline can distinguish fatal conditions from retryable ones.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// Configuration errors (1xx) - fatal before any data is touched
	CodeMissingEnv    Code = "E101"
	CodeInvalidConfig Code = "E102"

	// Transient I/O errors (2xx) - retried with backoff, then fatal
	CodeFetchFailed    Code = "E201"
	CodeDownloadFailed Code = "E202"
	CodePublishFailed  Code = "E203"
	CodeTimeout        Code = "E204"

	// Structural data errors (3xx) - fatal, no partial output
	CodeMissingColumn  Code = "E301"
	CodeSchemaMismatch Code = "E302"
	CodeLinkNotFound   Code = "E303"
	CodeEmptyDataset   Code = "E304"

	// Store errors (4xx)
	CodeStoreInit    Code = "E401"
	CodeStoreQuery   Code = "E402"
	CodeStoreWrite   Code = "E403"
	CodeExportFailed Code = "E404"

	// Validation gate (5xx)
	CodeValidationFailed Code = "E501"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all RentFlow errors.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// --- Convenience constructors ---

// MissingEnv creates a configuration error for an absent environment value.
func MissingEnv(name string) *Error {
	return New(CodeMissingEnv, "required environment value not set").
		WithContext("name", name)
}

// MissingColumns creates a structural error naming all absent columns.
func MissingColumns(columns []string) *Error {
	return New(CodeMissingColumn, "Missing required columns").
		WithContext("columns", strings.Join(columns, ", "))
}

// LinkNotFound creates a structural error for a source page without a
// download anchor. Never retried.
func LinkNotFound(url string) *Error {
	return New(CodeLinkNotFound, "download link not found in source page").
		WithContext("url", url)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var rfErr *Error
	if errors.As(err, &rfErr) {
		return rfErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var rfErr *Error
	if errors.As(err, &rfErr) {
		return rfErr.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether an operation that returned err may be
// attempted again. Only transient transfer failures qualify; structural
// and configuration errors never do.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeFetchFailed, CodeDownloadFailed, CodePublishFailed, CodeTimeout:
		return true
	default:
		return false
	}
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	switch GetCode(err) {
	case CodeMissingEnv, CodeInvalidConfig:
		return true
	default:
		return false
	}
}
