// Package signaling holds the shared call-offer records both peers watch.
package signaling

import (
	"context"
	"errors"

	"chat-calls/internal/calls"
)

// Store is the signaling contract between two peers' agents.
//
// Status writes are compare-and-set: a record leaves ringing at most once and
// a terminal status is never overwritten. Subscriptions deliver the full
// record after every create or status change involving the peer, as caller
// or as callee, until ctx is cancelled.
type Store interface {
	CreateOffer(ctx context.Context, offer calls.CallOffer) (string, error)
	UpdateOfferStatus(ctx context.Context, id string, status calls.OfferStatus) (calls.CallOffer, error)
	SubscribeToOffersFor(ctx context.Context, peerID string) (<-chan calls.CallOffer, error)
	QueryLatestOffer(ctx context.Context, peerID string) (calls.CallOffer, bool, error)
}

var (
	ErrNotFound          = errors.New("signaling: offer not found")
	ErrOfferTerminal     = errors.New("signaling: offer already terminal")
	ErrInvalidTransition = errors.New("signaling: invalid status transition")
	ErrInvalidOffer      = errors.New("signaling: invalid offer")
)

// IsRaceLoss reports whether a status write failed only because the peer got
// there first. Such failures are expected and carry no user-visible meaning.
func IsRaceLoss(err error) bool {
	return errors.Is(err, ErrOfferTerminal) || errors.Is(err, ErrInvalidTransition)
}

func validateNew(o calls.CallOffer) error {
	switch {
	case o.CallerPeerID == "" || o.CalleePeerID == "":
		return ErrInvalidOffer
	case o.CallerPeerID == o.CalleePeerID:
		return ErrInvalidOffer
	case o.ChannelName == "":
		return ErrInvalidOffer
	case !o.Kind.Valid():
		return ErrInvalidOffer
	case o.Status != "" && o.Status != calls.OfferRinging:
		return ErrInvalidOffer
	}
	return nil
}

// allowedFrom lists the statuses a record may hold for a write of to to succeed.
func allowedFrom(to calls.OfferStatus) []calls.OfferStatus {
	var out []calls.OfferStatus
	for _, from := range []calls.OfferStatus{calls.OfferRinging, calls.OfferAccepted} {
		if calls.CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// refusal classifies a failed write against the record's current status.
func refusal(current calls.OfferStatus) error {
	if current.IsTerminal() {
		return ErrOfferTerminal
	}
	return ErrInvalidTransition
}
