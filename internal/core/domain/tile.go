package domain

import "strconv"

// TileID identifies one participant video stream within a session.
type TileID int

func (id TileID) String() string {
	return strconv.Itoa(int(id))
}

type TileState struct {
	TileID       TileID
	IsLocal      bool
	AttendeeID   string
	Active       bool
	Paused       bool
	StreamWidth  int
	StreamHeight int
}

type ParticipantSurface struct {
	TileID    TileID `json:"tile_id"`
	SurfaceID string `json:"surface_id"`
	IsLocal   bool   `json:"is_local"`
}

type SessionStatusCode string

const (
	SessionStatusOK               SessionStatusCode = "ok"
	SessionStatusLeft             SessionStatusCode = "left"
	SessionStatusConnectionFailed SessionStatusCode = "connection_failed"
	SessionStatusSignalingDropped SessionStatusCode = "signaling_dropped"
)

type SessionStatus struct {
	Code   SessionStatusCode
	Reason string
}
