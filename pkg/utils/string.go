package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString strips control characters other than whitespace and trims
// the result.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TruncateString shortens s to at most maxBytes bytes, marking the cut with
// "..." and never splitting a UTF-8 sequence.
func TruncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const ellipsis = "..."
	suffix := ""
	if maxBytes > len(ellipsis) {
		maxBytes -= len(ellipsis)
		suffix = ellipsis
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes] + suffix
}

// MaskSensitive keeps the first visibleChars of s and masks the rest.
func MaskSensitive(s string, visibleChars int) string {
	if len(s) <= visibleChars {
		return strings.Repeat("*", len(s))
	}
	return s[:visibleChars] + strings.Repeat("*", len(s)-visibleChars)
}
