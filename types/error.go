package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Pipeline stage error codes
const (
	ErrDownload  ErrorCode = "DOWNLOAD_ERROR"
	ErrAnalysis  ErrorCode = "ANALYSIS_ERROR"
	ErrNoContent ErrorCode = "NO_CONTENT"
)

// Generation error codes
const (
	ErrProviderRejected ErrorCode = "PROVIDER_REJECTED"
	ErrProviderTimeout  ErrorCode = "PROVIDER_TIMEOUT"
	ErrSessionTimeout   ErrorCode = "SESSION_TIMEOUT"
	ErrUserCancelled    ErrorCode = "USER_CANCELLED"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
)

// Transport error codes
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrSessionActive   ErrorCode = "SESSION_ACTIVE"
	ErrKeyMissing      ErrorCode = "API_KEY_MISSING"
	ErrInternal        ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// NewDownloadError wraps a source download failure. Never retryable:
// an unreachable or private source URL will not heal on its own.
func NewDownloadError(cause error) *Error {
	return NewError(ErrDownload, "source download failed").WithCause(cause)
}

// NewAnalysisError wraps a content analysis failure.
func NewAnalysisError(cause error) *Error {
	return NewError(ErrAnalysis, "content analysis failed").WithCause(cause)
}

// NewProviderRejectedError reports a synchronous provider refusal.
// transient distinguishes rate-limit style refusals (retry may succeed)
// from permanent ones (invalid prompt, unsupported duration).
func NewProviderRejectedError(provider, reason string, transient bool) *Error {
	return NewError(ErrProviderRejected, reason).
		WithProvider(provider).
		WithRetryable(transient)
}

// NewProviderTimeoutError reports a generation poll that never converged.
// Always transient: the same submission may complete on a retry.
func NewProviderTimeoutError(provider string) *Error {
	return NewError(ErrProviderTimeout, "generation did not complete in time").
		WithProvider(provider).
		WithRetryable(true)
}

// NewSessionTimeoutError reports a session that exceeded its watchdog budget.
func NewSessionTimeoutError() *Error {
	return NewError(ErrSessionTimeout, "session exceeded generation deadline")
}

// NewUserCancelledError reports an explicit user cancellation.
func NewUserCancelledError() *Error {
	return NewError(ErrUserCancelled, "session cancelled by user")
}

// AsError extracts a *Error from err, or wraps err as an internal error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(ErrInternal, err.Error()).WithCause(err)
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
