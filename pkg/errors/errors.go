package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeTransport      ErrorType = "transport"
	ErrorTypeHTTPStatus     ErrorType = "http_status"
	ErrorTypeCorruptArchive ErrorType = "corrupt_archive"
	ErrorTypeAuth           ErrorType = "auth"
	ErrorTypeParsing        ErrorType = "parsing"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeFilesystem     ErrorType = "filesystem"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error represents a typed failure with an optional HTTP status code
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Wrap creates a typed error around a cause
func Wrap(t ErrorType, err error, message string) *Error {
	return &Error{Type: t, Message: fmt.Sprintf("%s: %v", message, err), Err: err}
}

// Transport wraps a connection-level failure
func Transport(err error) *Error {
	return &Error{Type: ErrorTypeTransport, Message: err.Error(), Err: err}
}

// HTTPStatus creates a non-2xx status error
func HTTPStatus(code int, url string) *Error {
	return &Error{
		Type:    ErrorTypeHTTPStatus,
		Message: fmt.Sprintf("unexpected status for %s", url),
		Code:    code,
	}
}

// CorruptArchive creates an archive error
func CorruptArchive(message string, err error) *Error {
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	return &Error{Type: ErrorTypeCorruptArchive, Message: message, Err: err}
}

// Auth creates an authentication error
func Auth(code int, message string) *Error {
	return &Error{Type: ErrorTypeAuth, Message: message, Code: code}
}

// TypeOf returns the type of the first typed error in the chain
func TypeOf(err error) ErrorType {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeUnknown
}

// StatusCode returns the HTTP status code carried by err, or 0
func StatusCode(err error) int {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Code
	}
	return 0
}

// Is reports whether err carries the given type
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsAuth reports whether err ends the whole run
func IsAuth(err error) bool {
	return Is(err, ErrorTypeAuth)
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransport:
		return true
	case ErrorTypeHTTPStatus, ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeCorruptArchive:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an API status code indicates a retryable error.
// Asset downloads never retry on status; this applies to feed API calls only.
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429:
		return true
	case 500, 502, 503, 504:
		return true
	case 400, 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
