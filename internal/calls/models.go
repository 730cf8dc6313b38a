package calls

import (
	"errors"
	"time"

	"chat-calls/internal/media"
)

// CallOffer is the shared signaling record for one 1:1 call attempt.
//
// Ownership: the caller creates it; the callee sets accepted/rejected, the
// caller sets cancelled, either side sets ended.
//
// Invariant: status leaves ringing at most once, and a terminal status
// (rejected, cancelled, ended) is never overwritten. accepted may still move
// to ended.
type CallOffer struct {
	ID           string `json:"id"`
	CallerPeerID string `json:"caller_peer_id"`
	CalleePeerID string `json:"callee_peer_id"`

	// ChannelName is the opaque media room both peers join.
	ChannelName string `json:"channel_name"`

	Kind   Kind        `json:"call_kind"`
	Status OfferStatus `json:"status"`

	CallerDisplayName string `json:"caller_display_name,omitempty"`

	// CallerProviders lists the media providers the caller can reach.
	// The callee only falls back to a provider present here.
	CallerProviders []media.Provider `json:"caller_providers,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Involves reports whether peerID is the caller or the callee.
func (o CallOffer) Involves(peerID string) bool {
	return o.CallerPeerID == peerID || o.CalleePeerID == peerID
}

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool { return k == KindAudio || k == KindVideo }

type OfferStatus string

const (
	OfferRinging   OfferStatus = "ringing"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCancelled OfferStatus = "cancelled"
	OfferEnded     OfferStatus = "ended"
)

func (s OfferStatus) Valid() bool {
	switch s {
	case OfferRinging, OfferAccepted, OfferRejected, OfferCancelled, OfferEnded:
		return true
	default:
		return false
	}
}

func (s OfferStatus) IsTerminal() bool {
	return s == OfferRejected || s == OfferCancelled || s == OfferEnded
}

// CanTransition reports whether a stored offer may move from one status to another.
func CanTransition(from, to OfferStatus) bool {
	switch from {
	case OfferRinging:
		return to == OfferAccepted || to.IsTerminal()
	case OfferAccepted:
		return to == OfferEnded
	default:
		return false
	}
}

type Direction string

const (
	DirectionNone     Direction = "none"
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRinging    Phase = "ringing"
	PhaseConnecting Phase = "connecting"
	PhaseConnected  Phase = "connected"

	// PhaseEnded is only published as the last view of a call before idle.
	PhaseEnded Phase = "ended"
)

// Session is the local participant's single 1:1 call. The exported fields
// are the read-only view; the rest is machine bookkeeping.
type Session struct {
	Direction   Direction      `json:"direction"`
	Phase       Phase          `json:"phase"`
	Kind        Kind           `json:"call_kind,omitempty"`
	PeerID      string         `json:"peer_id,omitempty"`
	PeerName    string         `json:"peer_display_name,omitempty"`
	OfferID     string         `json:"offer_id,omitempty"`
	ChannelName string         `json:"channel_name,omitempty"`
	Provider    media.Provider `json:"active_provider"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`

	// Error describes why the previous call ended abnormally.
	Error string `json:"error,omitempty"`
	// LastOutcome is the history status the previous call produced, if any.
	LastOutcome string `json:"last_outcome,omitempty"`

	gen             uint64
	nonce           string
	localName       string
	graceOpen       bool
	answered        bool
	joinInFlight    bool
	mediaJoined     bool
	historyOpen     bool
	fallbackTried   bool
	fallbackPending bool
	callerProviders []media.Provider
	offerCreatedAt  time.Time

	// supersededOffer is the offer a fallback replaced; it gets
	// supersededStatus once the fresh offer exists.
	supersededOffer  string
	supersededStatus OfferStatus

	// settling counts joins that outlived their call, per provider.
	settling joinCounts
}

type joinCounts struct {
	centralized   int
	decentralized int
}

func (c *joinCounts) add(p media.Provider, n int) {
	switch p {
	case media.ProviderCentralized:
		c.centralized = max(c.centralized+n, 0)
	case media.ProviderDecentralized:
		c.decentralized = max(c.decentralized+n, 0)
	}
}

func (c joinCounts) of(p media.Provider) int {
	switch p {
	case media.ProviderCentralized:
		return c.centralized
	case media.ProviderDecentralized:
		return c.decentralized
	}
	return 0
}

func (c joinCounts) total() int { return c.centralized + c.decentralized }

// Idle returns the initial session.
func Idle() Session {
	return Session{Direction: DirectionNone, Phase: PhaseIdle}
}

func (s Session) IsIdle() bool { return s.Phase == PhaseIdle || s.Phase == "" }

// InCall reports whether media is being set up or is up.
func (s Session) InCall() bool {
	return s.Phase == PhaseConnecting || s.Phase == PhaseConnected
}

// MediaJoined reports whether the session's provider currently holds a joined channel.
func (s Session) MediaJoined() bool { return s.mediaJoined }

// JoinSettling reports whether a join from an earlier call is still running.
// Its channel is left as soon as it completes.
func (s Session) JoinSettling() bool { return s.settling.total() > 0 }

// Gen is the generation stamped on timers and joins started by this session.
func (s Session) Gen() uint64 { return s.gen }

var (
	ErrBusy                  = errors.New("calls: another call is in progress")
	ErrInvalidState          = errors.New("calls: intent not allowed in current state")
	ErrInvalidPeer           = errors.New("calls: invalid peer")
	ErrInvalidKind           = errors.New("calls: invalid call kind")
	ErrProviderNotConfigured = errors.New("calls: media provider not configured")
	ErrJoinFailed            = errors.New("calls: could not join media channel")
	ErrOfferFailed           = errors.New("calls: could not create call offer")
)
