package calls

import (
	"fmt"
	"time"

	"chat-calls/internal/history"
	"chat-calls/internal/media"
	"chat-calls/internal/routing"
)

// Reduce applies one event to the session. It performs no I/O: every side
// effect is returned as an Effect for the caller to execute in order.
//
// A non-nil error answers a local intent; the session is returned unchanged
// and no effects are produced.
//
// Rules:
// - Timers and joins carry the generation that started them; a result from
//   an older generation never moves the current session.
// - A join that completes after its call ended is immediately left.
// - Writes that lose a race against the peer's terminal write are harmless;
//   the peer's write arrives as an OfferObserved and ends the call here.
func Reduce(s Session, ev Event, cfg Snapshot) (Session, []Effect, error) {
	if s.Phase == "" {
		s.Phase, s.Direction = PhaseIdle, DirectionNone
	}

	switch e := ev.(type) {
	case StartRequested:
		return start(s, e, cfg)
	case AcceptRequested:
		return accept(s, cfg)
	case RejectRequested:
		return reject(s, cfg)
	case CancelRequested:
		return cancel(s, cfg)
	case EndRequested:
		return end(s, cfg)
	case OfferCreated:
		n, out := offerCreated(s, e, cfg)
		return n, out, nil
	case OfferCreateFailed:
		if e.Gen != s.gen || s.Direction != DirectionOutgoing {
			return s, nil, nil
		}
		n, out := finish(s, cfg, ending{err: fmt.Errorf("%w: %v", ErrOfferFailed, e.Err)})
		return n, out, nil
	case OfferObserved:
		n, out := offerObserved(s, e.Offer, cfg)
		return n, out, nil
	case TimerFired:
		n, out := timerFired(s, e, cfg)
		return n, out, nil
	case JoinFinished:
		n, out := joinFinished(s, e, cfg)
		return n, out, nil
	case RemoteHangup:
		n, out := remoteHangup(s, e, cfg)
		return n, out, nil
	}
	return s, nil, nil
}

func start(s Session, e StartRequested, cfg Snapshot) (Session, []Effect, error) {
	if !s.IsIdle() || s.settling.total() > 0 || cfg.GroupCallActive {
		return s, nil, ErrBusy
	}
	if e.PeerID == "" || e.PeerID == cfg.LocalPeerID {
		return s, nil, ErrInvalidPeer
	}
	if !e.Kind.Valid() {
		return s, nil, ErrInvalidKind
	}

	d, err := routing.Decide(cfg.Routing, cfg.LocalPeerID, e.PeerID, e.Nonce)
	if err != nil {
		return s, nil, ErrProviderNotConfigured
	}

	next := Session{
		Direction:   DirectionOutgoing,
		Phase:       PhaseRinging,
		Kind:        e.Kind,
		PeerID:      e.PeerID,
		ChannelName: d.Channel,
		Provider:    d.Provider,

		gen:             s.gen + 1,
		nonce:           e.Nonce,
		localName:       e.DisplayName,
		graceOpen:       true,
		callerProviders: cfg.Routing.Providers(),
		offerCreatedAt:  cfg.Now,
	}
	return next, []Effect{
		CreateOffer{Gen: next.gen, Offer: next.outgoingOffer(cfg)},
		ArmTimer{Timer: TimerGrace, Gen: next.gen, After: cfg.GraceWindow},
		ArmTimer{Timer: TimerRing, Gen: next.gen, After: cfg.RingTimeout},
	}, nil
}

func accept(s Session, cfg Snapshot) (Session, []Effect, error) {
	if s.Direction != DirectionIncoming || s.Phase != PhaseRinging {
		if s.Direction == DirectionIncoming && s.joinInFlight {
			return s, nil, ErrBusy
		}
		return s, nil, ErrInvalidState
	}
	if !cfg.Routing.Configured(s.Provider) {
		return s, nil, ErrProviderNotConfigured
	}
	if s.settling.of(s.Provider) > 0 {
		return s, nil, ErrBusy
	}

	s.Phase = PhaseConnecting
	s.answered = true
	s.joinInFlight = true
	return s, []Effect{
		Ring{On: false},
		DisarmTimer{Timer: TimerRing},
		UpdateOfferStatus{OfferID: s.OfferID, Status: OfferAccepted},
		s.join(),
	}, nil
}

// reject is a no-op outside incoming ringing so repeated UI triggers are harmless.
func reject(s Session, cfg Snapshot) (Session, []Effect, error) {
	if s.Direction != DirectionIncoming || s.Phase != PhaseRinging {
		return s, nil, nil
	}
	n, out := finish(s, cfg, ending{write: OfferRejected, record: history.StatusDeclined})
	return n, out, nil
}

func cancel(s Session, cfg Snapshot) (Session, []Effect, error) {
	switch {
	case s.IsIdle():
		return s, nil, nil
	case s.InCall():
		return end(s, cfg)
	case s.Direction != DirectionOutgoing:
		return s, nil, ErrInvalidState
	}
	n, out := finish(s, cfg, ending{write: OfferCancelled, record: history.StatusMissed})
	return n, out, nil
}

// end is the generic hang-up: it cancels or rejects a ringing call and ends
// one that is connecting or connected.
func end(s Session, cfg Snapshot) (Session, []Effect, error) {
	switch {
	case s.IsIdle():
		return s, nil, nil
	case s.Phase == PhaseRinging && s.Direction == DirectionOutgoing:
		return cancel(s, cfg)
	case s.Phase == PhaseRinging && s.Direction == DirectionIncoming:
		return reject(s, cfg)
	}
	n, out := finish(s, cfg, ending{write: OfferEnded, record: history.StatusMissed})
	return n, out, nil
}

func offerCreated(s Session, e OfferCreated, cfg Snapshot) (Session, []Effect) {
	if e.Gen != s.gen || s.Direction != DirectionOutgoing || e.Offer.ChannelName != s.ChannelName {
		// Nobody is waiting for this offer any more; do not leave it ringing.
		return s, []Effect{UpdateOfferStatus{OfferID: e.Offer.ID, Status: OfferCancelled}}
	}

	s.OfferID = e.Offer.ID
	var out []Effect
	if s.supersededOffer != "" {
		out = append(out, UpdateOfferStatus{OfferID: s.supersededOffer, Status: s.supersededStatus})
		s.supersededOffer, s.supersededStatus = "", ""
	}
	if s.fallbackPending {
		s.fallbackPending = false
		s.joinInFlight = true
		out = append(out, s.join())
	}
	return s, out
}

func offerObserved(s Session, o CallOffer, cfg Snapshot) (Session, []Effect) {
	local := cfg.LocalPeerID
	if o.ID == "" || !o.Involves(local) {
		return s, nil
	}

	if o.CalleePeerID == local && o.Status == OfferRinging {
		return incomingOffer(s, o, cfg)
	}

	// The push for our own offer can beat the store's reply.
	if s.Direction == DirectionOutgoing && s.OfferID == "" &&
		o.CallerPeerID == local && o.CalleePeerID == s.PeerID &&
		o.ChannelName == s.ChannelName && o.ID != s.supersededOffer {
		s.OfferID = o.ID
	}
	if o.ID != s.OfferID {
		return s, nil
	}

	if s.Direction == DirectionOutgoing {
		return outgoingUpdate(s, o, cfg)
	}
	return incomingUpdate(s, o, cfg)
}

func incomingOffer(s Session, o CallOffer, cfg Snapshot) (Session, []Effect) {
	age := cfg.Now.Sub(o.CreatedAt)
	if age >= cfg.RingTimeout || o.ID == s.OfferID {
		return s, nil
	}

	// The caller fell back and re-offered on another channel.
	if s.Direction == DirectionIncoming && s.PeerID == o.CallerPeerID {
		switch s.Phase {
		case PhaseRinging:
			s = s.adopt(o)
			return s, []Effect{ArmTimer{Timer: TimerRing, Gen: s.gen, After: ringRemaining(o, cfg.RingTimeout, cfg.Now)}}
		case PhaseConnecting:
			return followReoffer(s, o, cfg)
		case PhaseConnected:
			n, out := finish(s, cfg, ending{})
			n, more := incomingOffer(n, o, cfg)
			return n, append(out, more...)
		}
	}

	// A join still settling from an earlier call does not block ringing;
	// accept waits for it if it holds the same provider.
	if !s.IsIdle() || cfg.GroupCallActive || cfg.DoNotDisturb {
		return s, []Effect{
			UpdateOfferStatus{OfferID: o.ID, Status: OfferRejected},
			RecordHistory{Outcome: offerOutcome(o, history.StatusMissed)},
		}
	}

	next := Session{
		Direction:   DirectionIncoming,
		Phase:       PhaseRinging,
		Kind:        o.Kind,
		PeerID:      o.CallerPeerID,
		PeerName:    o.CallerDisplayName,
		OfferID:     o.ID,
		ChannelName: o.ChannelName,
		Provider:    routing.ProviderForChannel(o.ChannelName),

		gen:             s.gen + 1,
		callerProviders: o.CallerProviders,
		offerCreatedAt:  o.CreatedAt,
		settling:        s.settling,
	}
	return next, []Effect{
		Ring{On: true, Offer: o},
		ArmTimer{Timer: TimerRing, Gen: next.gen, After: ringRemaining(o, cfg.RingTimeout, cfg.Now)},
	}
}

// followReoffer moves an answered call that is still joining onto the
// caller's fallback offer. The user already answered, so the fresh offer is
// accepted at once unless its provider cannot be joined yet.
func followReoffer(s Session, o CallOffer, cfg Snapshot) (Session, []Effect) {
	if s.joinInFlight && o.ChannelName == s.ChannelName {
		// Our own fallback is already joining the channel the caller moved to.
		gen := s.gen
		s = s.adopt(o)
		s.gen = gen
		return s, []Effect{UpdateOfferStatus{OfferID: o.ID, Status: OfferAccepted}}
	}

	var out []Effect
	if s.joinInFlight {
		s.settling.add(s.Provider, 1)
		s.joinInFlight = false
	}
	if s.mediaJoined {
		out = append(out, LeaveMedia{Provider: s.Provider})
		s.mediaJoined = false
	}
	s = s.adopt(o)

	if !cfg.Routing.Configured(s.Provider) || s.settling.of(s.Provider) > 0 {
		s.Phase = PhaseRinging
		s.answered = false
		return s, append(out,
			Ring{On: true, Offer: o},
			ArmTimer{Timer: TimerRing, Gen: s.gen, After: ringRemaining(o, cfg.RingTimeout, cfg.Now)},
		)
	}
	s.joinInFlight = true
	return s, append(out, UpdateOfferStatus{OfferID: o.ID, Status: OfferAccepted}, s.join())
}

// adopt points an incoming session at a re-offer from the same caller and
// starts a new generation so timers and joins of the old offer are ignored.
func (s Session) adopt(o CallOffer) Session {
	s.gen++
	s.OfferID = o.ID
	s.Kind = o.Kind
	s.ChannelName = o.ChannelName
	s.Provider = routing.ProviderForChannel(o.ChannelName)
	s.callerProviders = o.CallerProviders
	s.offerCreatedAt = o.CreatedAt
	return s
}

func outgoingUpdate(s Session, o CallOffer, cfg Snapshot) (Session, []Effect) {
	switch o.Status {
	case OfferAccepted:
		if s.Phase != PhaseRinging || s.answered {
			return s, nil
		}
		s.answered = true
		out := []Effect{DisarmTimer{Timer: TimerRing}}
		if s.mediaJoined {
			n, more := connect(s, cfg)
			return n, append(out, more...)
		}
		s.Phase = PhaseConnecting
		if s.graceOpen {
			s.graceOpen = false
			out = append(out, DisarmTimer{Timer: TimerGrace})
		}
		if !s.joinInFlight && !s.fallbackPending {
			s.joinInFlight = true
			out = append(out, s.join())
		}
		return s, out

	case OfferRejected:
		// Too fast to tell an explicit decline from an auto-reject.
		if s.Phase == PhaseRinging && s.graceOpen {
			return finish(s, cfg, ending{record: history.StatusMissed})
		}
		return finish(s, cfg, ending{record: history.StatusDeclined})

	case OfferCancelled, OfferEnded:
		return finish(s, cfg, ending{record: history.StatusMissed})
	}
	return s, nil
}

func incomingUpdate(s Session, o CallOffer, cfg Snapshot) (Session, []Effect) {
	switch o.Status {
	case OfferCancelled, OfferEnded:
		return finish(s, cfg, ending{record: history.StatusMissed})
	case OfferRejected:
		// Rejected from elsewhere; nothing left to account for here.
		return finish(s, cfg, ending{})
	}
	return s, nil
}

func timerFired(s Session, e TimerFired, cfg Snapshot) (Session, []Effect) {
	if e.Gen != s.gen || s.Phase != PhaseRinging {
		return s, nil
	}

	switch e.Timer {
	case TimerGrace:
		if s.Direction != DirectionOutgoing || !s.graceOpen {
			return s, nil
		}
		s.graceOpen = false
		if s.joinInFlight || s.mediaJoined || s.fallbackPending {
			return s, nil
		}
		s.joinInFlight = true
		return s, []Effect{s.join()}

	case TimerRing:
		if s.Direction == DirectionOutgoing {
			return finish(s, cfg, ending{write: OfferCancelled, record: history.StatusMissed})
		}
		return finish(s, cfg, ending{record: history.StatusMissed})
	}
	return s, nil
}

func joinFinished(s Session, e JoinFinished, cfg Snapshot) (Session, []Effect) {
	if e.Gen != s.gen || !s.joinInFlight {
		s.settling.add(e.Provider, -1)
		if e.Err == nil {
			return s, []Effect{LeaveMedia{Provider: e.Provider}}
		}
		return s, nil
	}

	s.joinInFlight = false
	if e.Err == nil {
		s.mediaJoined = true
		if s.Direction == DirectionIncoming || s.answered {
			return connect(s, cfg)
		}
		// Caller joined early; keep ringing until the callee answers.
		return s, nil
	}
	return joinFailed(s, cfg)
}

// joinFailed retries once on the alternate provider, then gives up.
func joinFailed(s Session, cfg Snapshot) (Session, []Effect) {
	if !s.fallbackTried {
		if s.Direction == DirectionOutgoing {
			if d, ok := routing.Fallback(cfg.Routing, s.Provider); ok {
				return reoffer(s, d.Provider, cfg)
			}
		} else if s.Provider == media.ProviderDecentralized &&
			cfg.Routing.Configured(media.ProviderCentralized) &&
			s.callerSupports(media.ProviderCentralized) {
			// The caller is not told about this channel; it only meets us
			// there if it falls back too.
			s.fallbackTried = true
			s.Provider = media.ProviderCentralized
			s.ChannelName = routing.ChannelName(media.ProviderCentralized, s.PeerID, cfg.LocalPeerID, "")
			s.joinInFlight = true
			return s, []Effect{s.join()}
		}
	}

	write := OfferEnded
	if s.Direction == DirectionOutgoing && !s.answered {
		write = OfferCancelled
	}
	return finish(s, cfg, ending{write: write, err: ErrJoinFailed})
}

// reoffer moves an outgoing call to the alternate provider with a fresh offer.
func reoffer(s Session, alt media.Provider, cfg Snapshot) (Session, []Effect) {
	s.fallbackTried = true
	s.Provider = alt
	s.ChannelName = routing.FallbackChannelName(alt, cfg.LocalPeerID, s.PeerID, s.nonce)
	s.fallbackPending = true
	s.offerCreatedAt = cfg.Now

	// The old offer is closed only once the new one exists, so the callee
	// sees the re-offer before the old call goes away.
	var out []Effect
	if s.OfferID != "" {
		s.supersededOffer = s.OfferID
		s.supersededStatus = OfferCancelled
	}
	if s.answered {
		// The callee took the old offer and follows us to the new one.
		s.supersededStatus = OfferEnded
		s.answered = false
		s.Phase = PhaseRinging
		out = append(out, ArmTimer{Timer: TimerRing, Gen: s.gen, After: cfg.RingTimeout})
	}
	s.OfferID = ""
	out = append(out, CreateOffer{Gen: s.gen, Offer: s.outgoingOffer(cfg)})
	return s, out
}

func remoteHangup(s Session, e RemoteHangup, cfg Snapshot) (Session, []Effect) {
	if !s.mediaJoined || e.Provider != s.Provider || s.Phase != PhaseConnected {
		return s, nil
	}
	if e.Channel != "" && e.Channel != s.ChannelName {
		return s, nil
	}
	return finish(s, cfg, ending{write: OfferEnded, record: history.StatusMissed})
}

func connect(s Session, cfg Snapshot) (Session, []Effect) {
	now := cfg.Now
	s.Phase = PhaseConnected
	s.StartedAt = &now
	s.historyOpen = true
	return s, []Effect{RecordHistory{Outcome: s.outcome(cfg, history.StatusCompleted)}}
}

type ending struct {
	// write is the status written to the current offer; empty for none.
	write OfferStatus
	// record is the history entry for a call that never connected.
	record history.Status
	err    error
}

// finish tears the call down and returns the idle session that follows it.
func finish(s Session, cfg Snapshot, how ending) (Session, []Effect) {
	out := []Effect{DisarmTimer{Timer: TimerGrace}, DisarmTimer{Timer: TimerRing}}
	if s.Direction == DirectionIncoming && s.Phase == PhaseRinging {
		out = append(out, Ring{On: false})
	}
	if s.mediaJoined {
		out = append(out, LeaveMedia{Provider: s.Provider})
	}
	if how.write != "" && s.OfferID != "" {
		out = append(out, UpdateOfferStatus{OfferID: s.OfferID, Status: how.write})
	}
	if s.supersededOffer != "" {
		out = append(out, UpdateOfferStatus{OfferID: s.supersededOffer, Status: s.supersededStatus})
	}

	outcome := ""
	switch {
	case s.historyOpen:
		out = append(out, AmendHistory{ID: s.historyID(), Patch: history.Finish(*s.StartedAt, cfg.Now)})
		outcome = string(history.StatusCompleted)
	case how.record != "" && s.historyID() != "":
		out = append(out, RecordHistory{Outcome: s.outcome(cfg, how.record)})
		outcome = string(how.record)
	}

	next := Idle()
	next.gen = s.gen + 1
	next.settling = s.settling
	if s.joinInFlight {
		next.settling.add(s.Provider, 1)
	}
	next.LastOutcome = outcome
	if how.err != nil {
		next.Error = how.err.Error()
	}
	return next, out
}

func (s Session) join() JoinMedia {
	return JoinMedia{Gen: s.gen, Provider: s.Provider, Channel: s.ChannelName, Video: s.Kind == KindVideo}
}

func (s Session) historyID() string {
	if s.OfferID != "" {
		return s.OfferID
	}
	return s.supersededOffer
}

func (s Session) callerSupports(p media.Provider) bool {
	for _, cp := range s.callerProviders {
		if cp == p {
			return true
		}
	}
	return false
}

func (s Session) outgoingOffer(cfg Snapshot) CallOffer {
	return CallOffer{
		CallerPeerID:      cfg.LocalPeerID,
		CalleePeerID:      s.PeerID,
		ChannelName:       s.ChannelName,
		Kind:              s.Kind,
		Status:            OfferRinging,
		CallerDisplayName: s.localName,
		CallerProviders:   s.callerProviders,
		CreatedAt:         cfg.Now,
		UpdatedAt:         cfg.Now,
	}
}

func (s Session) outcome(cfg Snapshot, status history.Status) history.Outcome {
	caller, callee := cfg.LocalPeerID, s.PeerID
	if s.Direction == DirectionIncoming {
		caller, callee = s.PeerID, cfg.LocalPeerID
	}
	o := history.Outcome{
		ID:           s.historyID(),
		CallerPeerID: caller,
		CalleePeerID: callee,
		CallKind:     string(s.Kind),
		Status:       status,
		ChannelName:  s.ChannelName,
	}
	if status == history.StatusCompleted && s.StartedAt != nil {
		o.StartedAt = *s.StartedAt
	}
	return o
}

func offerOutcome(o CallOffer, status history.Status) history.Outcome {
	return history.Outcome{
		ID:           o.ID,
		CallerPeerID: o.CallerPeerID,
		CalleePeerID: o.CalleePeerID,
		CallKind:     string(o.Kind),
		Status:       status,
		ChannelName:  o.ChannelName,
	}
}

// ringRemaining reports how long an incoming offer may still ring.
func ringRemaining(o CallOffer, ringTimeout time.Duration, now time.Time) time.Duration {
	left := ringTimeout - now.Sub(o.CreatedAt)
	if left < 0 {
		return 0
	}
	if left > ringTimeout {
		return ringTimeout
	}
	return left
}
