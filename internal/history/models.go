package history

import (
	"errors"
	"time"
)

// Entry is one line of the local participant's call history.
//
// Invariants:
// - Entries are append-only; only a completed entry may be amended, once,
//   with its end time and duration.
// - missed and declined entries never carry start/end/duration.
// - For completed entries, ended_at >= started_at and duration_seconds >= 0.
type Entry struct {
	ID string `json:"id"`

	// OwnerPeerID is the participant whose history this entry belongs to.
	OwnerPeerID string `json:"owner_peer_id"`

	CallerPeerID string `json:"caller_peer_id"`
	CalleePeerID string `json:"callee_peer_id"`
	CallKind     string `json:"call_kind"`
	Status       Status `json:"status"`
	ChannelName  string `json:"channel_name,omitempty"`

	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Outgoing reports whether the owner placed the call.
func (e Entry) Outgoing() bool { return e.OwnerPeerID == e.CallerPeerID }

type Status string

const (
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusDeclined  Status = "declined"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusMissed, StatusDeclined:
		return true
	default:
		return false
	}
}

// Outcome is what the call state machine knows when a call terminates or
// connects. Zero times mean "not reached".
type Outcome struct {
	ID           string
	CallerPeerID string
	CalleePeerID string
	CallKind     string
	Status       Status
	ChannelName  string
	StartedAt    time.Time
	EndedAt      time.Time
}

// Patch amends a completed entry once the call has ended.
type Patch struct {
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
}

// Query filters history listings. Zero values mean "no filter".
type Query struct {
	PeerID string
	Status Status
	Since  time.Time
	Until  time.Time
	Limit  int
}

var (
	ErrInvalidEntry = errors.New("history: invalid entry")
	ErrInvalidPatch = errors.New("history: invalid patch")
	ErrNotFound     = errors.New("history: entry not found")
	ErrDuplicate    = errors.New("history: entry already recorded")
	ErrImmutable    = errors.New("history: entry cannot be amended")
)
