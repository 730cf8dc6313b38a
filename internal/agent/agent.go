// Package agent runs one participant's call orchestration: a single event
// loop that feeds the call reducer and executes the effects it returns.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chat-calls/internal/calls"
	"chat-calls/internal/groupcall"
	"chat-calls/internal/history"
	"chat-calls/internal/media"
	"chat-calls/internal/routing"
	"chat-calls/internal/signaling"
	"chat-calls/pkg/logger"
)

var (
	ErrNotRunning = errors.New("agent: not running")
	ErrNotInCall  = errors.New("agent: no active call")
)

// MediaRouter is what the agent needs from media.Joiner.
type MediaRouter interface {
	Configured(p media.Provider) bool
	Join(ctx context.Context, p media.Provider, channel string, video bool) error
	Leave(ctx context.Context, p media.Provider) error
	Toggle(ctx context.Context, p media.Provider, t media.Toggle) (bool, error)
	Events() <-chan media.Event
}

// HistorySink receives history writes produced by the reducer.
type HistorySink interface {
	Record(ctx context.Context, o history.Outcome) (history.Entry, error)
	Amend(ctx context.Context, id string, p history.Patch) (history.Entry, error)
}

// Ringer plays or stops the incoming call indication.
type Ringer interface {
	Ring(ctx context.Context, offer calls.CallOffer)
	Silence(ctx context.Context)
}

type Config struct {
	PeerID      string
	DisplayName string

	RingTimeout       time.Duration
	GraceWindow       time.Duration
	GroupPollInterval time.Duration

	DoNotDisturb        bool
	PreferDecentralized bool
}

type Deps struct {
	Signaling signaling.Store
	Media     MediaRouter
	History   HistorySink
	// Groups is optional; without it group calls are unavailable.
	Groups *groupcall.Registry
	// Ringer defaults to logging the ring.
	Ringer Ringer
}

// View is the read-only state published to the UI.
type View struct {
	Call                calls.Session      `json:"call"`
	Group               *groupcall.Session `json:"group,omitempty"`
	GroupNotices        []groupcall.Notice `json:"group_notices"`
	DoNotDisturb        bool               `json:"do_not_disturb"`
	PreferDecentralized bool               `json:"prefer_decentralized"`
}

type Agent struct {
	cfg    Config
	sig    signaling.Store
	media  MediaRouter
	hist   HistorySink
	groups *groupcall.Registry
	ringer Ringer
	clock  func() time.Time

	inbox   chan func(ctx context.Context)
	done    chan struct{}
	running chan struct{}

	// Owned by the loop goroutine.
	session             calls.Session
	pending             []calls.Event
	timers              map[calls.TimerKind]*time.Timer
	dnd                 bool
	preferDecentralized bool
	log                 *slog.Logger

	mu   sync.Mutex
	view View
	subs map[chan View]struct{}
}

func New(cfg Config, deps Deps) *Agent {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 45 * time.Second
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 500 * time.Millisecond
	}
	if cfg.GroupPollInterval <= 0 {
		cfg.GroupPollInterval = 10 * time.Second
	}
	a := &Agent{
		cfg:                 cfg,
		sig:                 deps.Signaling,
		media:               deps.Media,
		hist:                deps.History,
		groups:              deps.Groups,
		ringer:              deps.Ringer,
		clock:               time.Now,
		inbox:               make(chan func(ctx context.Context), 64),
		done:                make(chan struct{}),
		running:             make(chan struct{}),
		session:             calls.Idle(),
		timers:              map[calls.TimerKind]*time.Timer{},
		dnd:                 cfg.DoNotDisturb,
		preferDecentralized: cfg.PreferDecentralized,
		log:                 slog.Default(),
		subs:                map[chan View]struct{}{},
	}
	if a.ringer == nil {
		a.ringer = logRinger{}
	}
	a.view = a.buildView()
	return a
}

func (a *Agent) PeerID() string { return a.cfg.PeerID }

// Run subscribes to signaling and processes events until ctx is cancelled.
// A live call is ended before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	ctx, a.log = logger.Component(ctx, "agent", "peer_id", a.cfg.PeerID)
	defer close(a.done)

	offers, err := a.sig.SubscribeToOffersFor(ctx, a.cfg.PeerID)
	if err != nil {
		return err
	}
	var groupUpdates <-chan groupcall.Update
	if a.groups != nil {
		if groupUpdates, err = a.groups.Watch(ctx); err != nil {
			return err
		}
	}

	a.catchUp(ctx)
	if a.groups != nil {
		a.refreshGroups(ctx)
	}
	a.publish()
	close(a.running)

	poll := time.NewTicker(a.cfg.GroupPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown(context.WithoutCancel(ctx))
			return ctx.Err()

		case fn := <-a.inbox:
			fn(ctx)

		case o, ok := <-offers:
			if !ok {
				a.log.Warn("offer subscription closed")
				offers = nil
				continue
			}
			a.dispatch(ctx, calls.OfferObserved{Offer: o})

		case e := <-a.media.Events():
			a.onMedia(ctx, e)

		case u, ok := <-groupUpdates:
			if !ok {
				groupUpdates = nil
				continue
			}
			if a.groups.Observe(ctx, u, a.noticeOptions()) {
				a.publish()
			}

		case <-poll.C:
			if a.groups != nil {
				a.refreshGroups(ctx)
			}
		}
	}
}

// Ready is closed once Run has subscribed and caught up.
func (a *Agent) Ready() <-chan struct{} { return a.running }

// catchUp handles the newest offer written while the agent was not running.
func (a *Agent) catchUp(ctx context.Context) {
	o, ok, err := a.sig.QueryLatestOffer(ctx, a.cfg.PeerID)
	if err != nil {
		a.log.Warn("latest offer query failed", "error", err)
		return
	}
	if !ok {
		return
	}

	switch {
	case o.Status == calls.OfferRinging && o.CalleePeerID == a.cfg.PeerID:
		a.dispatch(ctx, calls.OfferObserved{Offer: o})
	case o.Status == calls.OfferRinging && o.CallerPeerID == a.cfg.PeerID:
		// A previous run left its own offer ringing.
		a.writeStatus(ctx, o.ID, calls.OfferCancelled)
	case o.Status == calls.OfferAccepted:
		// A call this process no longer holds.
		a.writeStatus(ctx, o.ID, calls.OfferEnded)
	}
}

func (a *Agent) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if !a.session.IsIdle() {
		a.dispatch(ctx, calls.EndRequested{})
	}
	if a.groups != nil {
		if s, ok := a.groups.Joined(); ok {
			if err := a.groups.Leave(ctx, s.GroupID); err != nil {
				a.log.Warn("group leave on shutdown failed", "group_id", s.GroupID, "error", err)
			}
		}
	}
	for k, t := range a.timers {
		t.Stop()
		delete(a.timers, k)
	}
}

func (a *Agent) snapshot() calls.Snapshot {
	return calls.Snapshot{
		LocalPeerID:     a.cfg.PeerID,
		Now:             a.clock(),
		DoNotDisturb:    a.dnd,
		GroupCallActive: a.groups != nil && a.groups.InCall(),
		Routing: routing.Preferences{
			PreferDecentralized:     a.preferDecentralized,
			CentralizedConfigured:   a.media.Configured(media.ProviderCentralized),
			DecentralizedConfigured: a.media.Configured(media.ProviderDecentralized),
		},
		RingTimeout: a.cfg.RingTimeout,
		GraceWindow: a.cfg.GraceWindow,
	}
}

func (a *Agent) noticeOptions() groupcall.NoticeOptions {
	return groupcall.NoticeOptions{DoNotDisturb: a.dnd, Busy: !a.session.IsIdle()}
}

func (a *Agent) refreshGroups(ctx context.Context) {
	changed, err := a.groups.Refresh(ctx, a.noticeOptions())
	if err != nil {
		a.log.Warn("group refresh failed", "error", err)
	}
	if changed {
		a.publish()
	}
}

func (a *Agent) onMedia(ctx context.Context, e media.Event) {
	switch e.Type {
	case media.EventRemoteHangup:
		a.dispatch(ctx, calls.RemoteHangup{Provider: e.Provider, Channel: e.Channel})
	case media.EventDisconnected:
		a.log.Warn("media connection lost", "provider", string(e.Provider), "channel", e.Channel)
		if a.groups != nil {
			dropped, err := a.groups.MediaLost(ctx, e.Provider, e.Channel)
			if err != nil {
				a.log.Warn("group participant removal failed", "error", err)
			}
			if dropped {
				a.publish()
				return
			}
		}
		// The channel is gone either way; end a 1:1 call riding on it.
		a.dispatch(ctx, calls.RemoteHangup{Provider: e.Provider, Channel: e.Channel})
	default:
		a.log.Debug("media event", "provider", string(e.Provider), "type", string(e.Type), "channel", e.Channel)
	}
}

type logRinger struct{}

func (logRinger) Ring(ctx context.Context, o calls.CallOffer) {
	logger.From(ctx).Info("incoming call", "offer_id", o.ID, "from", o.CallerPeerID, "call_kind", string(o.Kind))
}

func (logRinger) Silence(ctx context.Context) {}
