package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for sync operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeConfiguration   ErrorCode = 1001

	// Collaborator errors
	ErrCodeTransport   ErrorCode = 2000
	ErrCodeStore       ErrorCode = 2001
	ErrCodeReplay      ErrorCode = 2002
	ErrCodeInterceptor ErrorCode = 2003
	ErrCodeInternal    ErrorCode = 2004
)

// ErrIgnoredMessage is returned for push messages that carry nothing to apply.
// It is neither success nor failure: nothing happened because there was nothing to do.
var ErrIgnoredMessage = stderrors.New("push message ignored")

// SyncError represents a structured error with code and context
type SyncError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to an HTTP status code
func (e *SyncError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeConfiguration:
		return http.StatusNotFound
	case ErrCodeTransport:
		return http.StatusBadGateway
	case ErrCodeStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewSyncError creates a new SyncError
func NewSyncError(code ErrorCode, message string, cause error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *SyncError) WithDetail(key string, value interface{}) *SyncError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeInvalidArgument, message, cause)
}

func UnknownTable(table string) *SyncError {
	return NewSyncError(ErrCodeConfiguration, fmt.Sprintf("table: %s is not defined", table), nil).
		WithDetail("table", table)
}

func TransportFailed(method, url string, cause error) *SyncError {
	return NewSyncError(ErrCodeTransport, fmt.Sprintf("%s %s failed", method, url), cause).
		WithDetail("method", method).
		WithDetail("url", url)
}

func TransportStatus(method, url string, status int, body string) *SyncError {
	return NewSyncError(ErrCodeTransport, fmt.Sprintf("%s %s returned status %d", method, url, status), nil).
		WithDetail("method", method).
		WithDetail("url", url).
		WithDetail("status", status).
		WithDetail("body", body)
}

func StoreFailed(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeStore, message, cause)
}

func ReplayFailed(kind string, position int, cause error) *SyncError {
	return NewSyncError(ErrCodeReplay, fmt.Sprintf("buffered %s operation #%d failed", kind, position), cause).
		WithDetail("kind", kind).
		WithDetail("position", position)
}

func InterceptorFailed(index int, cause error) *SyncError {
	return NewSyncError(ErrCodeInterceptor, fmt.Sprintf("interceptor #%d failed", index), cause).
		WithDetail("index", index)
}

func InternalError(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeInternal, message, cause)
}

// IsSyncError checks if an error is, or wraps, a SyncError
func IsSyncError(err error) bool {
	var se *SyncError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	var se *SyncError
	return stderrors.As(err, &se) && se.Code == code
}
