package calls

import (
	"time"

	"chat-calls/internal/history"
	"chat-calls/internal/media"
)

// Effect is a side effect requested by the machine. The agent executes them
// in order after each transition.
type Effect interface{ isEffect() }

// CreateOffer asks the store to persist a new ringing offer. The result comes
// back as OfferCreated or OfferCreateFailed with the same Gen.
type CreateOffer struct {
	Gen   uint64
	Offer CallOffer
}

// UpdateOfferStatus writes a status. Losing a race to an already terminal
// record is expected and must not surface as an error.
type UpdateOfferStatus struct {
	OfferID string
	Status  OfferStatus
}

type ArmTimer struct {
	Timer TimerKind
	Gen   uint64
	After time.Duration
}

type DisarmTimer struct {
	Timer TimerKind
}

// JoinMedia runs asynchronously and reports back as JoinFinished.
type JoinMedia struct {
	Gen      uint64
	Provider media.Provider
	Channel  string
	Video    bool
}

type LeaveMedia struct {
	Provider media.Provider
}

// Ring starts or stops the incoming-call indication.
type Ring struct {
	On    bool
	Offer CallOffer
}

type RecordHistory struct {
	Outcome history.Outcome
}

type AmendHistory struct {
	ID    string
	Patch history.Patch
}

func (CreateOffer) isEffect()       {}
func (UpdateOfferStatus) isEffect() {}
func (ArmTimer) isEffect()          {}
func (DisarmTimer) isEffect()       {}
func (JoinMedia) isEffect()         {}
func (LeaveMedia) isEffect()        {}
func (Ring) isEffect()              {}
func (RecordHistory) isEffect()     {}
func (AmendHistory) isEffect()      {}
