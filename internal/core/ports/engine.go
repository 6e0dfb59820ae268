package ports

import (
	"context"

	"meetjoin/internal/core/domain"
)

// Engine is the conferencing engine that owns signaling and media transport.
type Engine interface {
	NewDeviceController(ctx context.Context) (DeviceController, error)
	NewSession(ctx context.Context, creds *domain.SessionCredentials, dc DeviceController, sink EventSink) (Session, error)
}

// DeviceLister enumerates capture devices currently reported by the platform.
type DeviceLister interface {
	ListVideoInputDevices(ctx context.Context) ([]domain.DeviceHandle, error)
}

// DeviceController is the engine's view of local capture devices.
type DeviceController interface {
	DeviceLister
	// StartVideoPreview shows deviceID on surface without sending it anywhere.
	StartVideoPreview(ctx context.Context, deviceID string, surface Surface) error
	StopVideoPreview(ctx context.Context, surface Surface) error
	Destroy(ctx context.Context) error
}

// VideoInput is anything a session can take video from: a raw device id or
// a transform device wrapping one.
type VideoInput interface {
	DeviceID() string
}

// DeviceInput selects a raw capture device by id.
type DeviceInput string

func (d DeviceInput) DeviceID() string { return string(d) }

// TransformDevice wraps a raw device with a chain of frame processors.
type TransformDevice interface {
	VideoInput
	// InnerDeviceID is the raw device the pipeline reads from.
	InnerDeviceID() string
	// Stop releases the pipeline and its processors. It is idempotent.
	Stop(ctx context.Context) error
}

// FrameProcessor is one stage of a transform pipeline.
type FrameProcessor interface {
	Name() string
	Destroy() error
}

// TransformEngine builds transform pipelines for the effect kinds the
// runtime supports.
type TransformEngine interface {
	Supported(kind domain.TransformKind) bool
	NewProcessor(ctx context.Context, kind domain.TransformKind, params domain.TransformParams, asset []byte) (FrameProcessor, error)
	NewTransformDevice(ctx context.Context, deviceID string, processors []FrameProcessor) (TransformDevice, error)
}

// VideoInputBinder switches the video input of a session.
type VideoInputBinder interface {
	StartVideoInput(ctx context.Context, input VideoInput) error
}

// TileBinder is the part of a session the surface registry drives.
type TileBinder interface {
	BindVideoElement(tileID domain.TileID, surface Surface) error
	StopVideoInput(ctx context.Context) error
}

// Session is a live meeting session bound to credentials and a device
// controller.
type Session interface {
	VideoInputBinder
	TileBinder

	AddObserver(o SessionObserver)
	RemoveObserver(o SessionObserver)

	ChooseVideoInputQuality(width, height, frameRate int)
	SetVideoMaxBandwidthKbps(kbps int)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	StartLocalVideoTile() (domain.TileID, error)
}

// SessionObserver receives session lifecycle events. Implementations must
// not block for long and must not panic.
type SessionObserver interface {
	AudioVideoDidStart()
	AudioVideoDidStop(status domain.SessionStatus)
	VideoTileDidUpdate(tile domain.TileState)
	VideoTileWasRemoved(tileID domain.TileID)
}
