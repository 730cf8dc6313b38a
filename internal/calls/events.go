package calls

import (
	"time"

	"chat-calls/internal/media"
	"chat-calls/internal/routing"
)

// Event is anything the machine reacts to: local intents, signaling pushes,
// timer firings and media results all go through the same queue.
type Event interface{ isEvent() }

type StartRequested struct {
	PeerID      string
	Kind        Kind
	DisplayName string
	// Nonce scopes decentralized channel names to this attempt.
	Nonce string
}

type AcceptRequested struct{}
type RejectRequested struct{}
type CancelRequested struct{}
type EndRequested struct{}

// OfferCreated reports the store's id for an offer the machine asked for.
type OfferCreated struct {
	Gen   uint64
	Offer CallOffer
}

type OfferCreateFailed struct {
	Gen uint64
	Err error
}

// OfferObserved is a signaling push (or startup query result).
type OfferObserved struct {
	Offer CallOffer
}

type TimerKind string

const (
	TimerGrace TimerKind = "grace"
	TimerRing  TimerKind = "ring"
)

type TimerFired struct {
	Timer TimerKind
	Gen   uint64
}

type JoinFinished struct {
	Gen      uint64
	Provider media.Provider
	Channel  string
	Err      error
}

// RemoteHangup is the media provider reporting the other side left.
type RemoteHangup struct {
	Provider media.Provider
	Channel  string
}

func (StartRequested) isEvent()    {}
func (AcceptRequested) isEvent()   {}
func (RejectRequested) isEvent()   {}
func (CancelRequested) isEvent()   {}
func (EndRequested) isEvent()      {}
func (OfferCreated) isEvent()      {}
func (OfferCreateFailed) isEvent() {}
func (OfferObserved) isEvent()     {}
func (TimerFired) isEvent()        {}
func (JoinFinished) isEvent()      {}
func (RemoteHangup) isEvent()      {}

// Snapshot is the configuration the machine reads for one transition.
type Snapshot struct {
	LocalPeerID string
	Now         time.Time

	DoNotDisturb bool
	// GroupCallActive is set while the local participant is in a group call.
	GroupCallActive bool

	Routing routing.Preferences

	RingTimeout time.Duration
	GraceWindow time.Duration
}
