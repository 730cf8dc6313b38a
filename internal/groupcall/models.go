// Package groupcall tracks group call sessions and the local participant's
// place in them.
package groupcall

import (
	"errors"
	"time"

	"chat-calls/internal/media"
)

// Session is the shared record of one active group call. At most one exists
// per group; it ends when the last participant leaves.
type Session struct {
	GroupID      string         `json:"group_id"`
	CallID       string         `json:"call_id"`
	ChannelName  string         `json:"channel_name"`
	Provider     media.Provider `json:"provider"`
	IsVideo      bool           `json:"is_video"`
	Participants []string       `json:"participants"`
	StartedBy    string         `json:"started_by"`
	StartedAt    time.Time      `json:"started_at"`
}

func (s Session) HasParticipant(peerID string) bool {
	for _, p := range s.Participants {
		if p == peerID {
			return true
		}
	}
	return false
}

// Update is pushed whenever a group's session starts, changes or ends.
// For an ended session only GroupID and CallID are meaningful.
type Update struct {
	GroupID string  `json:"group_id"`
	Active  bool    `json:"active"`
	Session Session `json:"session"`
}

// Notice is an incoming group call the local participant has not joined.
type Notice struct {
	GroupID    string    `json:"group_id"`
	CallID     string    `json:"call_id"`
	StartedBy  string    `json:"started_by"`
	IsVideo    bool      `json:"is_video"`
	Silent     bool      `json:"silent"`
	ReceivedAt time.Time `json:"received_at"`
}

var (
	ErrSessionExists = errors.New("groupcall: group already has an active call")
	ErrNoSession     = errors.New("groupcall: no active call for group")
	ErrInvalidGroup  = errors.New("groupcall: invalid group")
	ErrNotMember     = errors.New("groupcall: not a member of the group")
	ErrNotJoined     = errors.New("groupcall: not in this group call")
	ErrBusy          = errors.New("groupcall: another call is in progress")
	ErrJoinFailed    = errors.New("groupcall: could not join media channel")
	ErrNoProvider    = errors.New("groupcall: media provider not configured")
)
