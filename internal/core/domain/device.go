package domain

type DeviceKind string

const (
	DeviceKindVideoInput DeviceKind = "videoinput"
	DeviceKindAudioInput DeviceKind = "audioinput"
)

type DeviceCapabilities struct {
	Width     int
	Height    int
	FrameRate int
}

// DeviceHandle is a snapshot of a platform-reported capture device.
type DeviceHandle struct {
	DeviceID     string
	Label        string
	GroupID      string
	Kind         DeviceKind
	Capabilities DeviceCapabilities
}

type VideoProfile struct {
	Width          int
	Height         int
	FrameRate      int
	MaxBitrateKbps int
}

// DefaultVideoProfile is the fixed outgoing video policy.
var DefaultVideoProfile = VideoProfile{
	Width:          960,
	Height:         540,
	FrameRate:      15,
	MaxBitrateKbps: 1400,
}
