package utils

import (
	"github.com/google/uuid"
)

// NewAttemptID returns an id for one join attempt.
func NewAttemptID() string {
	return "attempt_" + uuid.NewString()
}

// NewRequestID returns an id for one control API request.
func NewRequestID() string {
	return "req_" + uuid.NewString()
}

// DeviceGroupID derives a stable group id for a device label so repeated
// enumerations report the same value.
func DeviceGroupID(label string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("meetjoin/device/"+label)).String()
}
