package utils

import (
	"strings"
	"testing"
)

func TestNewAttemptID(t *testing.T) {
	id1 := NewAttemptID()
	id2 := NewAttemptID()

	if id1 == id2 {
		t.Error("expected different IDs")
	}
	if !strings.HasPrefix(id1, "attempt_") {
		t.Errorf("expected prefix 'attempt_', got %s", id1)
	}
	if !strings.HasPrefix(NewRequestID(), "req_") {
		t.Error("expected request id prefix")
	}
}

func TestDeviceGroupID_Stable(t *testing.T) {
	if DeviceGroupID("cam-0") != DeviceGroupID("cam-0") {
		t.Error("expected stable group id")
	}
	if DeviceGroupID("cam-0") == DeviceGroupID("cam-1") {
		t.Error("expected distinct group ids")
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal string", "hello", "hello"},
		{"with control chars", "hello\x00world", "helloworld"},
		{"with newline", "hello\nworld", "hello\nworld"},
		{"with spaces", "  hello  ", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeString(tt.input); got != tt.expected {
				t.Errorf("SanitizeString(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 2, "he"},
		{"héllo wörld", 5, "h..."},
		{"日本語", 3, "日"},
	}

	for _, tt := range tests {
		if got := TruncateString(tt.input, tt.maxLen); got != tt.expected {
			t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
		}
	}
}

func TestMaskSensitive(t *testing.T) {
	if got := MaskSensitive("secret-token", 3); got != "sec*********" {
		t.Errorf("unexpected mask: %q", got)
	}
	if got := MaskSensitive("ab", 3); got != "**" {
		t.Errorf("unexpected mask: %q", got)
	}
}
