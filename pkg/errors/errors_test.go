package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error")
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error")

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error")
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestAppError_IsMatchesByCode(t *testing.T) {
	provErr := NewProvisioningError("bad status", http.StatusInternalServerError, nil)
	wrapped := fmt.Errorf("initialize: %w", NewSessionInitError("join failed", provErr))

	if !errors.Is(wrapped, ErrSessionInit) {
		t.Error("expected wrapped error to match ErrSessionInit")
	}
	if !errors.Is(wrapped, ErrProvisioning) {
		t.Error("expected wrapped error to match ErrProvisioning through the cause chain")
	}
	if errors.Is(wrapped, ErrTransformAsset) {
		t.Error("did not expect a match on ErrTransformAsset")
	}
	if provErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", provErr.StatusCode)
	}
}

func TestAppError_HTTPStatus(t *testing.T) {
	tests := []struct {
		err  *AppError
		want int
	}{
		{NewInvalidInputError("x"), http.StatusBadRequest},
		{NewProvisioningError("x", 0, nil), http.StatusBadGateway},
		{NewSessionInitError("x", nil), http.StatusServiceUnavailable},
		{NewTransformAssetError("http://example.com/bg.png", nil), http.StatusFailedDependency},
		{NewNoSessionError(), http.StatusConflict},
		{NewDeviceUnavailableError("x"), http.StatusConflict},
		{NewAlreadyJoinedError("room-42"), http.StatusConflict},
		{NewInternalError("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			if got := tt.err.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewTransformAssetError("http://example.com/bg.png", errors.New("404"))
	wrapped := fmt.Errorf("transform start: %w", appErr)

	got := GetAppError(wrapped)
	if got != appErr {
		t.Fatalf("GetAppError() = %v, want %v", got, appErr)
	}
	if got.Context["url"] != "http://example.com/bg.png" {
		t.Errorf("Context[url] = %v", got.Context["url"])
	}

	if GetAppError(errors.New("plain")) != nil {
		t.Error("GetAppError should return nil for a plain error")
	}
}

func TestHTTPStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"provisioning", NewProvisioningError("unexpected status 500", 500, nil), http.StatusBadGateway},
		{"provisioning inside session init", NewSessionInitError("provisioning failed", NewProvisioningError("timeout", 0, nil)), http.StatusBadGateway},
		{"session init", NewSessionInitError("start session", errors.New("refused")), http.StatusServiceUnavailable},
		{"wrapped app error", fmt.Errorf("join: %w", NewNoSessionError()), http.StatusConflict},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusOf(tt.err); got != tt.want {
				t.Errorf("HTTPStatusOf() = %d, want %d", got, tt.want)
			}
		})
	}
}
