package domain

import "errors"

var (
	ErrUnknownTransformKind  = errors.New("unknown transform kind")
	ErrCredentialsNotFound   = errors.New("credentials not found")
	ErrIncompleteCredentials = errors.New("credentials missing meeting or attendee descriptor")
	ErrDeviceNotFound        = errors.New("capture device not found")
	ErrTileNotFound          = errors.New("tile not found")
	ErrSessionClosed         = errors.New("session closed")
)
