package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType classifies an AppError. Callers branch on the type, never on the message.
type ErrorType string

const (
	// Domain errors
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"

	// Account resolution errors
	ErrorTypeAccountNotConfigured ErrorType = "ACCOUNT_NOT_CONFIGURED"
	ErrorTypeAccountAmbiguous     ErrorType = "ACCOUNT_AMBIGUOUS"

	// Orchestration errors
	ErrorTypeProvider         ErrorType = "PROVIDER"
	ErrorTypeAnalysisFailed   ErrorType = "ANALYSIS_FAILED"
	ErrorTypeReflectionFailed ErrorType = "REFLECTION_FAILED"
	ErrorTypeSynthesisFailed  ErrorType = "SYNTHESIS_FAILED"

	// Application errors
	ErrorTypeInternal  ErrorType = "INTERNAL"
	ErrorTypeTimeout   ErrorType = "TIMEOUT"
	ErrorTypeRateLimit ErrorType = "RATE_LIMIT"

	// Infrastructure errors
	ErrorTypeDatabase ErrorType = "DATABASE"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Retryable  bool                   `json:"-"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return b.String()
}

func newError(t ErrorType, status int, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		HTTPStatus: status,
		StackTrace: captureStackTrace(),
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource))
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return newError(ErrorTypeConflict, http.StatusConflict, message)
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return newError(ErrorTypeUnauthorized, http.StatusUnauthorized, message)
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return newError(ErrorTypeForbidden, http.StatusForbidden, message)
}

// NewAccountNotConfiguredError is returned when a realm has no LLM account to fall back on.
func NewAccountNotConfiguredError(message string) *AppError {
	return newError(ErrorTypeAccountNotConfigured, http.StatusUnprocessableEntity, message)
}

// NewAccountAmbiguousError is returned when several accounts exist and none is the default.
func NewAccountAmbiguousError(message string) *AppError {
	return newError(ErrorTypeAccountAmbiguous, http.StatusUnprocessableEntity, message)
}

// NewProviderError wraps a failed provider call. Retryable marks transient failures.
func NewProviderError(provider string, retryable bool, err error) *AppError {
	e := newError(ErrorTypeProvider, http.StatusBadGateway, fmt.Sprintf("provider '%s' call failed", provider))
	e.Retryable = retryable
	e.Cause = err
	return e
}

// NewAnalysisFailedError reports a signal analysis that exhausted its attempts.
func NewAnalysisFailedError(message string, err error) *AppError {
	e := newError(ErrorTypeAnalysisFailed, http.StatusBadGateway, message)
	e.Cause = err
	return e
}

// NewReflectionFailedError reports a reflection generation that exhausted its attempts.
func NewReflectionFailedError(message string, err error) *AppError {
	e := newError(ErrorTypeReflectionFailed, http.StatusBadGateway, message)
	e.Cause = err
	return e
}

// NewSynthesisFailedError reports a synthesis run that exhausted its attempts.
func NewSynthesisFailedError(message string, err error) *AppError {
	e := newError(ErrorTypeSynthesisFailed, http.StatusBadGateway, message)
	e.Cause = err
	return e
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return newError(ErrorTypeTimeout, http.StatusGatewayTimeout, fmt.Sprintf("operation '%s' timed out", operation))
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit int, window string) *AppError {
	return newError(ErrorTypeRateLimit, http.StatusTooManyRequests,
		fmt.Sprintf("rate limit exceeded: %d requests per %s", limit, window))
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, err error) *AppError {
	e := newError(ErrorTypeDatabase, http.StatusInternalServerError, fmt.Sprintf("database operation '%s' failed", operation))
	e.Cause = err
	return e
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

func IsNotFound(err error) bool   { return IsType(err, ErrorTypeNotFound) }
func IsValidation(err error) bool { return IsType(err, ErrorTypeValidation) }
func IsForbidden(err error) bool  { return IsType(err, ErrorTypeForbidden) }
func IsConflict(err error) bool   { return IsType(err, ErrorTypeConflict) }
func IsInternal(err error) bool   { return IsType(err, ErrorTypeInternal) }
func IsProvider(err error) bool   { return IsType(err, ErrorTypeProvider) }

// IsRetryable reports whether err is a provider failure worth another attempt.
func IsRetryable(err error) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == ErrorTypeProvider && appErr.Retryable
}

// Wrap wraps an error with additional context. AppErrors keep their type.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
