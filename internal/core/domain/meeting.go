package domain

// MediaPlacement carries the media service endpoints assigned to a meeting.
type MediaPlacement struct {
	AudioHostURL      string `json:"AudioHostUrl,omitempty"`
	AudioFallbackURL  string `json:"AudioFallbackUrl,omitempty"`
	SignalingURL      string `json:"SignalingUrl"`
	TurnControlURL    string `json:"TurnControlUrl,omitempty"`
	ScreenDataURL     string `json:"ScreenDataUrl,omitempty"`
	EventIngestionURL string `json:"EventIngestionUrl,omitempty"`
}

type MeetingDescriptor struct {
	MeetingID         string         `json:"MeetingId"`
	ExternalMeetingID string         `json:"ExternalMeetingId,omitempty"`
	MediaRegion       string         `json:"MediaRegion,omitempty"`
	MediaPlacement    MediaPlacement `json:"MediaPlacement"`
}

type AttendeeDescriptor struct {
	AttendeeID     string `json:"AttendeeId"`
	ExternalUserID string `json:"ExternalUserId,omitempty"`
	JoinToken      string `json:"JoinToken"`
}

// SessionCredentials is what provisioning hands back for one meeting attempt.
// It is never mutated after it is obtained.
type SessionCredentials struct {
	Meeting  MeetingDescriptor  `json:"Meeting"`
	Attendee AttendeeDescriptor `json:"Attendee"`
}

// MeetingStatus is a read-only projection of the coordinator state.
type MeetingStatus struct {
	MeetingID         string        `json:"meeting_id,omitempty"`
	ExternalMeetingID string        `json:"external_meeting_id,omitempty"`
	AttendeeID        string        `json:"attendee_id,omitempty"`
	PreviewActive     bool          `json:"preview_active"`
	Joined            bool          `json:"joined"`
	AudioOnly         bool          `json:"audio_only"`
	VideoDeviceID     string        `json:"video_device_id,omitempty"`
	Transform         TransformKind `json:"transform"`
}

// Validate reports whether both descriptors carry their identities.
func (c *SessionCredentials) Validate() error {
	if c == nil || c.Meeting.MeetingID == "" || c.Attendee.AttendeeID == "" {
		return ErrIncompleteCredentials
	}
	return nil
}
