package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit            ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
	ErrCodeProvisioning         ErrorCode = "PROVISIONING_FAILED"
	ErrCodeSessionInit          ErrorCode = "SESSION_INIT_FAILED"
	ErrCodeTransformAsset       ErrorCode = "TRANSFORM_ASSET_FAILED"
	ErrCodeTransformUnsupported ErrorCode = "TRANSFORM_UNSUPPORTED"
	ErrCodeDeviceUnavailable    ErrorCode = "DEVICE_UNAVAILABLE"
	ErrCodeNoSession            ErrorCode = "NO_SESSION"
	ErrCodeAlreadyJoined        ErrorCode = "ALREADY_JOINED"
)

// Sentinels for errors.Is checks. Matching is by code, so any AppError
// carrying the same code satisfies errors.Is against these.
var (
	ErrProvisioning      = &AppError{Code: ErrCodeProvisioning}
	ErrSessionInit       = &AppError{Code: ErrCodeSessionInit}
	ErrTransformAsset    = &AppError{Code: ErrCodeTransformAsset}
	ErrDeviceUnavailable = &AppError{Code: ErrCodeDeviceUnavailable}
	ErrNoSession         = &AppError{Code: ErrCodeNoSession}
	ErrInvalidInput      = &AppError{Code: ErrCodeInvalidInput}
	ErrAlreadyJoined     = &AppError{Code: ErrCodeAlreadyJoined}
)

// AppError represents an application error with code and context
type AppError struct {
	Code    ErrorCode
	Message string
	// StatusCode is the status reported by a remote endpoint, 0 when the
	// failure did not come from an HTTP response.
	StatusCode int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// HTTPStatus maps the error code to the status returned by the control API.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeProvisioning:
		return http.StatusBadGateway
	case ErrCodeSessionInit:
		return http.StatusServiceUnavailable
	case ErrCodeTransformAsset:
		return http.StatusFailedDependency
	case ErrCodeDeviceUnavailable, ErrCodeNoSession, ErrCodeAlreadyJoined:
		return http.StatusConflict
	case ErrCodeTransformUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatusOf maps err to a response status. A provisioning failure
// anywhere in the chain answers 502, also when a session error wraps it.
func HTTPStatusOf(err error) int {
	if errors.Is(err, ErrProvisioning) {
		return ErrProvisioning.HTTPStatus()
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded")
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message)
}

// NewProvisioningError reports a failed credential fetch. statusCode is the
// remote HTTP status, or 0 for transport and decode failures.
func NewProvisioningError(message string, statusCode int, cause error) *AppError {
	err := WrapError(cause, ErrCodeProvisioning, message)
	err.StatusCode = statusCode
	return err
}

func NewSessionInitError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeSessionInit, message)
}

func NewTransformAssetError(url string, cause error) *AppError {
	return WrapError(cause, ErrCodeTransformAsset, "background image fetch failed").
		WithContext("url", url)
}

func NewDeviceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeDeviceUnavailable, message)
}

func NewNoSessionError() *AppError {
	return NewAppError(ErrCodeNoSession, "no active meeting session")
}

func NewAlreadyJoinedError(meetingID string) *AppError {
	return NewAppError(ErrCodeAlreadyJoined, "a meeting session is already active").
		WithContext("meeting_id", meetingID)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
