package ports

import (
	"context"

	"meetjoin/internal/core/domain"
)

// Provisioner resolves a meeting id to session credentials. Implementations
// issue one request per call and do not retry.
type Provisioner interface {
	FetchCredentials(ctx context.Context, meetingID string) (*domain.SessionCredentials, error)
}

// CredentialsInvalidator is implemented by provisioners that keep
// credentials between calls.
type CredentialsInvalidator interface {
	Invalidate(ctx context.Context, meetingID string) error
}

// AssetFetcher downloads a binary asset such as a replacement background.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// EventSink receives session and coordinator events for metrics.
type EventSink interface {
	RecordEvent(name string, attrs map[string]string)
}

// Event names recorded by the core.
const (
	EventMeetingJoined        = "meeting_joined"
	EventMeetingJoinFailed    = "meeting_join_failed"
	EventMeetingLeft          = "meeting_left"
	EventAudioVideoStarted    = "audio_video_started"
	EventAudioVideoStopped    = "audio_video_stopped"
	EventSurfaceCreated       = "surface_created"
	EventSurfaceRemoved       = "surface_removed"
	EventSurfaceInconsistent  = "surface_inconsistent"
	EventTransformStarted     = "transform_started"
	EventTransformStopped     = "transform_stopped"
	EventTransformFailed      = "transform_failed"
	EventTransformUnsupported = "transform_unsupported"
	EventPreviewStarted       = "preview_started"
	EventPreviewStopped       = "preview_stopped"

	// recorded by engines
	EventRemoteTrackAdded  = "remote_track_added"
	EventKeyframeRequested = "keyframe_requested"
	EventSignalingDropped  = "signaling_dropped"
	EventConnectionFailed  = "connection_failed"
)

// MeetingCoordinator is the operation surface the UI boundary drives.
type MeetingCoordinator interface {
	Initialize(ctx context.Context, meetingID string) error
	Leave(ctx context.Context) error
	Status() domain.MeetingStatus
	Surfaces() []domain.ParticipantSurface

	PreviewStart(ctx context.Context, surface Surface) error
	PreviewStop(ctx context.Context) error

	TransformSupported(kind domain.TransformKind) bool
	TransformStart(ctx context.Context, kind domain.TransformKind, params domain.TransformParams) (domain.TransformState, error)
	TransformStop(ctx context.Context) error
}
