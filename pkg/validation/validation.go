package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// DeviceIDRegex validates capture device ids
	DeviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)
)

const (
	maxMeetingIDLength = 256
	maxDeviceIDLength  = 128
)

// ValidateMeetingID validates a caller-supplied meeting identifier. Any
// printable text is accepted since the provisioning service owns the format.
func ValidateMeetingID(meetingID string) error {
	if strings.TrimSpace(meetingID) == "" {
		return fmt.Errorf("meeting ID is required")
	}
	if len(meetingID) > maxMeetingIDLength {
		return fmt.Errorf("meeting ID is too long (max %d characters)", maxMeetingIDLength)
	}
	if !utf8.ValidString(meetingID) {
		return fmt.Errorf("meeting ID is not valid UTF-8")
	}
	for _, r := range meetingID {
		if unicode.IsControl(r) {
			return fmt.Errorf("meeting ID contains control characters")
		}
	}
	return nil
}

// ValidateDeviceID validates a capture device id
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device ID is required")
	}
	if len(deviceID) > maxDeviceIDLength {
		return fmt.Errorf("device ID is too long (max %d characters)", maxDeviceIDLength)
	}
	if !DeviceIDRegex.MatchString(deviceID) {
		return fmt.Errorf("invalid device ID format")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateHTTPURL is ValidateURL restricted to http and https.
func ValidateHTTPURL(urlStr string) error {
	if err := ValidateURL(urlStr); err != nil {
		return err
	}
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	return nil
}

// ValidateBlurStrength validates a blur strength percentage
func ValidateBlurStrength(strength int) error {
	if strength < 0 || strength > 100 {
		return fmt.Errorf("blur strength must be within [0, 100]")
	}
	return nil
}
