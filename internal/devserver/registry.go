package devserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"meetjoin/internal/core/domain"
	"meetjoin/pkg/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type attendee struct {
	meetingID string
	token     string
}

// Registry is an in-memory meeting service. Every provisioning call for a
// meeting name returns the same meeting and a new attendee.
type Registry struct {
	signalingURL string
	logger       *zap.SugaredLogger

	mu        sync.Mutex
	meetings  map[string]domain.MeetingDescriptor
	attendees map[string]attendee
}

// NewRegistry creates a registry. An empty signalingURL is derived from the
// Host of each provisioning request.
func NewRegistry(signalingURL string, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		signalingURL: signalingURL,
		logger:       logger,
		meetings:     make(map[string]domain.MeetingDescriptor),
		attendees:    make(map[string]attendee),
	}
}

// Provision returns credentials for a new attendee of the named meeting.
func (r *Registry) Provision(name, signalingURL string) domain.SessionCredentials {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meetings[name]
	if !ok {
		m = domain.MeetingDescriptor{
			MeetingID:         uuid.NewString(),
			ExternalMeetingID: name,
			MediaRegion:       "local",
			MediaPlacement:    domain.MediaPlacement{SignalingURL: signalingURL},
		}
		r.meetings[name] = m
		r.logger.Infow("meeting created", "meeting_id", m.MeetingID, "external_meeting_id", name)
	}

	a := domain.AttendeeDescriptor{
		AttendeeID: uuid.NewString(),
		JoinToken:  uuid.NewString(),
	}
	r.attendees[a.AttendeeID] = attendee{meetingID: m.MeetingID, token: a.JoinToken}

	return domain.SessionCredentials{Meeting: m, Attendee: a}
}

// Verify returns the meeting an attendee belongs to when token is theirs.
func (r *Registry) Verify(attendeeID, token string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attendees[attendeeID]
	if !ok || a.token != token {
		return "", false
	}
	return a.meetingID, true
}

type nestedMeeting struct {
	Meeting domain.MeetingDescriptor `json:"Meeting"`
}

type nestedAttendee struct {
	Attendee domain.AttendeeDescriptor `json:"Attendee"`
}

type provisionResponse struct {
	Meeting  nestedMeeting  `json:"Meeting"`
	Attendee nestedAttendee `json:"Attendee"`
}

// ServeHTTP answers GET ?m=<name> in the nested meeting service format.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("m")
	if err := validation.ValidateMeetingID(name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	signalingURL := r.signalingURL
	if signalingURL == "" {
		signalingURL = "ws://" + req.Host + SignalingPath
	}
	creds := r.Provision(name, signalingURL)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(provisionResponse{
		Meeting:  nestedMeeting{Meeting: creds.Meeting},
		Attendee: nestedAttendee{Attendee: creds.Attendee},
	})
}
