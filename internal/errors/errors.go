// Package errors provides structured error types for the DHIS2 dialect.
// Every error carries a category, code, user-facing message and a retryable
// flag so the host layer can render it without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by failure domain.
type ErrorCategory string

const (
	ErrCategoryAuthentication ErrorCategory = "AUTHENTICATION"
	ErrCategoryNotFound       ErrorCategory = "NOT_FOUND"
	ErrCategoryTimeout        ErrorCategory = "TIMEOUT"
	ErrCategoryConnection     ErrorCategory = "CONNECTION"
	ErrCategoryUpstream       ErrorCategory = "UPSTREAM"
	ErrCategoryQuery          ErrorCategory = "QUERY"
	ErrCategoryColumnMapping  ErrorCategory = "COLUMN_MAPPING"
	ErrCategoryCursor         ErrorCategory = "CURSOR"
	ErrCategoryValidation     ErrorCategory = "VALIDATION"
	ErrCategoryInternal       ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Authentication codes
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found codes
	CodeEndpointNotFound = "ENDPOINT_NOT_FOUND"

	// Timeout / connection codes
	CodeRequestTimeout    = "REQUEST_TIMEOUT"
	CodeConnectionFailed  = "CONNECTION_FAILED"
	CodeConnectionRefused = "CONNECTION_REFUSED"

	// Upstream codes
	CodeServerError     = "SERVER_ERROR"
	CodeUnexpectedReply = "UNEXPECTED_REPLY"
	CodeInvalidResponse = "INVALID_RESPONSE"

	// Query codes
	CodeParseError        = "PARSE_ERROR"
	CodeUnsupportedSyntax = "UNSUPPORTED_SYNTAX"
	CodeUnknownTable      = "UNKNOWN_TABLE"

	// Column mapping codes
	CodeUnmappedColumn = "UNMAPPED_COLUMN"

	// Cursor codes
	CodeRowWidthMismatch = "ROW_WIDTH_MISMATCH"
	CodeCursorBusy       = "CURSOR_BUSY"
	CodeNoResult         = "NO_RESULT"
	CodeCursorClosed     = "CURSOR_CLOSED"

	// Validation codes
	CodeInvalidConnection = "INVALID_CONNECTION"
	CodeInvalidURI        = "INVALID_URI"
	CodeInvalidArgument   = "INVALID_ARGUMENT"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// DialectError is the structured error type used throughout the dialect.
type DialectError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *DialectError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *DialectError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *DialectError) Is(target error) bool {
	var t *DialectError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// UserMessage returns the message without category/code decoration or cause.
func (e *DialectError) UserMessage() string {
	return e.Message
}

// New creates a new DialectError.
func New(category ErrorCategory, code, message string) *DialectError {
	return &DialectError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new DialectError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *DialectError {
	return &DialectError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DialectError) WithDetails(details map[string]interface{}) *DialectError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *DialectError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a DialectError.
func GetCategory(err error) ErrorCategory {
	var de *DialectError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a DialectError.
func GetCode(err error) string {
	var de *DialectError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// As is a shorthand for errors.As with a *DialectError target.
func As(err error) (*DialectError, bool) {
	var de *DialectError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// isRetryable determines whether a category/code pair may be retried.
// Authentication failures are never retried.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryTimeout:
		return true
	case category == ErrCategoryConnection:
		return true
	case category == ErrCategoryUpstream && code == CodeServerError:
		return true
	default:
		return false
	}
}

// Convenience constructors for the DHIS2 failure taxonomy.

func NewAuthenticationError(code string, cause error) *DialectError {
	return Wrap(ErrCategoryAuthentication, code,
		"DHIS2 rejected the request: authentication failed, check your credentials (username/password or access token)", cause)
}

func NewNotFoundError(url string, cause error) *DialectError {
	return Wrap(ErrCategoryNotFound, CodeEndpointNotFound,
		fmt.Sprintf("DHIS2 endpoint %s was not found, check the configured URL (it usually ends in /api)", url), cause)
}

func NewTimeoutError(cause error) *DialectError {
	return Wrap(ErrCategoryTimeout, CodeRequestTimeout,
		"timed out waiting for DHIS2, could not connect in time: check network and server availability", cause)
}

func NewConnectionError(code string, cause error) *DialectError {
	return Wrap(ErrCategoryConnection, code,
		"could not connect to the DHIS2 server, check network and server availability", cause)
}

func NewUpstreamError(code, message string, cause error) *DialectError {
	return Wrap(ErrCategoryUpstream, code, message, cause)
}

func NewQueryError(code, message string) *DialectError {
	return New(ErrCategoryQuery, code, message)
}

func NewColumnMappingError(column string, candidates []string) *DialectError {
	return New(ErrCategoryColumnMapping, CodeUnmappedColumn,
		fmt.Sprintf("column %q could not be matched to any result column", column)).
		WithDetails(map[string]interface{}{"column": column, "candidates": candidates})
}

func NewCursorError(code, message string) *DialectError {
	return New(ErrCategoryCursor, code, message)
}

func NewValidationError(code, message string) *DialectError {
	return New(ErrCategoryValidation, code, message)
}

func NewInternalError(message string, cause error) *DialectError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
