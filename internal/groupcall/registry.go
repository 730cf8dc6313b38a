package groupcall

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-calls/internal/directory"
	"chat-calls/internal/media"
	"chat-calls/internal/routing"
	"chat-calls/pkg/logger"
)

// MediaJoiner is the part of media.Joiner the registry drives.
type MediaJoiner interface {
	Join(ctx context.Context, p media.Provider, channel string, video bool) error
	Leave(ctx context.Context, p media.Provider) error
}

// JoinOptions carries what the registry needs from the rest of the agent.
type JoinOptions struct {
	// Busy is set while a 1:1 call is connecting or connected.
	Busy  bool
	Prefs routing.Preferences
}

// NoticeOptions decides whether a new notice rings.
type NoticeOptions struct {
	DoNotDisturb bool
	Busy         bool
}

// Registry owns the local participant's group calls: at most one joined call,
// plus notices for calls started by others in the participant's groups.
//
// StartOrJoin and Leave are expected to be called from a single goroutine;
// the read accessors are safe from anywhere.
type Registry struct {
	peerID string
	store  Store
	dir    directory.Directory
	media  MediaJoiner
	clock  func() time.Time

	mu        sync.Mutex
	joined    *Session
	notices   map[string]Notice
	dismissed map[string]string // group -> dismissed call id
}

func NewRegistry(peerID string, store Store, dir directory.Directory, mj MediaJoiner) *Registry {
	return &Registry{
		peerID:    peerID,
		store:     store,
		dir:       dir,
		media:     mj,
		clock:     time.Now,
		notices:   map[string]Notice{},
		dismissed: map[string]string{},
	}
}

// StartOrJoin joins the group's active call, or starts one when there is none.
// It is refused without touching any state while another call is active.
func (r *Registry) StartOrJoin(ctx context.Context, groupID string, video bool, opts JoinOptions) (Session, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return Session{}, ErrInvalidGroup
	}

	if cur, ok := r.Joined(); ok {
		if cur.GroupID == groupID {
			return cur, nil
		}
		return Session{}, ErrBusy
	}
	if opts.Busy {
		return Session{}, ErrBusy
	}

	member, err := r.dir.IsMember(ctx, groupID, r.peerID)
	if err != nil {
		return Session{}, err
	}
	if !member {
		return Session{}, ErrNotMember
	}

	active, ok, err := r.store.Active(ctx, groupID)
	if err != nil {
		return Session{}, err
	}
	if ok {
		return r.joinExisting(ctx, active, opts)
	}
	return r.start(ctx, groupID, video, opts)
}

func (r *Registry) joinExisting(ctx context.Context, s Session, opts JoinOptions) (Session, error) {
	p := s.Provider
	if !p.Valid() {
		p = routing.ProviderForChannel(s.ChannelName)
	}
	if !opts.Prefs.Configured(p) {
		return Session{}, ErrNoProvider
	}
	if err := r.media.Join(ctx, p, s.ChannelName, s.IsVideo); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}

	updated, err := r.store.AddParticipant(ctx, s.GroupID, s.CallID, r.peerID)
	if err != nil {
		// The call ended while we were joining.
		_ = r.media.Leave(ctx, p)
		return Session{}, err
	}
	updated.Provider = p
	r.setJoined(updated)
	return updated, nil
}

// start creates a session on the preferred provider and retries once on the
// alternate one if the first join fails.
func (r *Registry) start(ctx context.Context, groupID string, video bool, opts JoinOptions) (Session, error) {
	p, _, err := routing.Select(opts.Prefs)
	if err != nil {
		return Session{}, ErrNoProvider
	}

	s, err := r.create(ctx, groupID, p, video, opts)
	if !errors.Is(err, ErrJoinFailed) || s.CallID == "" {
		return s, err
	}

	log := logger.From(ctx).With("group_id", groupID)
	log.Warn("group join failed", "call_id", s.CallID, "provider", string(p), "error", err)
	_ = r.store.End(ctx, groupID, s.CallID)

	alt, ok := routing.Fallback(opts.Prefs, p)
	if !ok {
		return Session{}, err
	}
	s, err = r.create(ctx, groupID, alt.Provider, video, opts)
	if errors.Is(err, ErrJoinFailed) && s.CallID != "" {
		log.Warn("group fallback join failed", "call_id", s.CallID, "provider", string(alt.Provider), "error", err)
		_ = r.store.End(ctx, groupID, s.CallID)
		return Session{}, err
	}
	return s, err
}

// create starts a session owned by the local participant and joins it. When
// the join fails the created session is returned with ErrJoinFailed so the
// caller can end it. Losing the creation race joins the winner's session.
func (r *Registry) create(ctx context.Context, groupID string, p media.Provider, video bool, opts JoinOptions) (Session, error) {
	s := Session{
		GroupID:      groupID,
		CallID:       uuid.NewString(),
		ChannelName:  routing.GroupChannelName(p, groupID),
		Provider:     p,
		IsVideo:      video,
		Participants: []string{r.peerID},
		StartedBy:    r.peerID,
		StartedAt:    r.clock().UTC(),
	}
	created, err := r.store.Create(ctx, s)
	if errors.Is(err, ErrSessionExists) {
		return r.joinExisting(ctx, created, opts)
	}
	if err != nil {
		return Session{}, err
	}

	if err := r.media.Join(ctx, p, created.ChannelName, video); err != nil {
		return created, fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}
	created.Provider = p
	r.setJoined(created)
	return created, nil
}

// Leave leaves the media channel and the session.
func (r *Registry) Leave(ctx context.Context, groupID string) error {
	cur, ok := r.Joined()
	if !ok || cur.GroupID != groupID {
		return ErrNotJoined
	}

	log := logger.From(ctx).With("group_id", groupID, "call_id", cur.CallID)
	if err := r.media.Leave(ctx, cur.Provider); err != nil {
		log.Warn("group media leave failed", "error", err)
	}
	r.mu.Lock()
	r.joined = nil
	r.mu.Unlock()

	if _, err := r.store.RemoveParticipant(ctx, groupID, cur.CallID, r.peerID); err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	return nil
}

// MediaLost drops the joined session when the media link carrying it goes
// away, and removes the local participant so the group sees us leave. It
// reports whether a joined session matched.
func (r *Registry) MediaLost(ctx context.Context, p media.Provider, channel string) (bool, error) {
	r.mu.Lock()
	cur := r.joined
	if cur == nil || cur.Provider != p || (channel != "" && channel != cur.ChannelName) {
		r.mu.Unlock()
		return false, nil
	}
	lost := clone(*cur)
	r.joined = nil
	r.mu.Unlock()

	log := logger.From(ctx).With("group_id", lost.GroupID, "call_id", lost.CallID)
	log.Warn("group media lost")
	// Clears the router's record of the channel so the next join is accepted.
	if err := r.media.Leave(ctx, p); err != nil && !errors.Is(err, media.ErrNotJoined) {
		log.Warn("group media leave failed", "error", err)
	}
	if _, err := r.store.RemoveParticipant(ctx, lost.GroupID, lost.CallID, r.peerID); err != nil && !errors.Is(err, ErrNoSession) {
		return true, err
	}
	return true, nil
}

// Observe folds a pushed update into the local view. It reports whether the
// notices or the joined session changed.
func (r *Registry) Observe(ctx context.Context, u Update, opts NoticeOptions) bool {
	var leave *Session
	changed := r.observe(u, opts, &leave)
	if leave != nil {
		// Our call was ended under us.
		if err := r.media.Leave(ctx, leave.Provider); err != nil {
			logger.From(ctx).Warn("group media leave failed", "group_id", leave.GroupID, "error", err)
		}
	}
	return changed
}

func (r *Registry) observe(u Update, opts NoticeOptions, leave **Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.joined != nil && r.joined.GroupID == u.GroupID {
		if !u.Active {
			if u.Session.CallID == "" || u.Session.CallID == r.joined.CallID {
				s := *r.joined
				*leave = &s
				r.joined = nil
				return true
			}
			return false
		}
		if u.Session.CallID == r.joined.CallID {
			p := r.joined.Provider
			s := clone(u.Session)
			s.Provider = p
			r.joined = &s
			return true
		}
		return false
	}

	if !u.Active {
		n, ok := r.notices[u.GroupID]
		if !ok || (u.Session.CallID != "" && n.CallID != u.Session.CallID) {
			return false
		}
		delete(r.notices, u.GroupID)
		return true
	}

	s := u.Session
	if s.StartedBy == r.peerID || s.HasParticipant(r.peerID) {
		return false
	}
	if r.dismissed[u.GroupID] == s.CallID {
		return false
	}
	if n, ok := r.notices[u.GroupID]; ok && n.CallID == s.CallID {
		return false
	}
	r.notices[u.GroupID] = Notice{
		GroupID:    u.GroupID,
		CallID:     s.CallID,
		StartedBy:  s.StartedBy,
		IsVideo:    s.IsVideo,
		Silent:     opts.DoNotDisturb || opts.Busy || r.joined != nil,
		ReceivedAt: r.clock().UTC(),
	}
	return true
}

// Refresh polls every group the participant belongs to. It catches sessions
// whose push was missed.
func (r *Registry) Refresh(ctx context.Context, opts NoticeOptions) (bool, error) {
	groups, err := r.dir.GroupsOf(ctx, r.peerID)
	if err != nil {
		return false, err
	}
	changed := false
	for _, g := range groups {
		s, ok, err := r.store.Active(ctx, g)
		if err != nil {
			return changed, err
		}
		u := Update{GroupID: g, Active: ok, Session: s}
		if !ok {
			u.Session = Session{GroupID: g}
		}
		if r.Observe(ctx, u, opts) {
			changed = true
		}
	}
	return changed, nil
}

// Watch subscribes to pushes for the participant's current groups.
func (r *Registry) Watch(ctx context.Context) (<-chan Update, error) {
	groups, err := r.dir.GroupsOf(ctx, r.peerID)
	if err != nil {
		return nil, err
	}
	return r.store.Subscribe(ctx, groups)
}

// Dismiss drops a notice without side effects on the session.
func (r *Registry) Dismiss(groupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notices[groupID]
	if !ok {
		return false
	}
	delete(r.notices, groupID)
	r.dismissed[groupID] = n.CallID
	return true
}

func (r *Registry) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

// Sessions lists the active sessions across the participant's groups.
func (r *Registry) Sessions(ctx context.Context) ([]Session, error) {
	groups, err := r.dir.GroupsOf(ctx, r.peerID)
	if err != nil {
		return nil, err
	}
	var out []Session
	for _, g := range groups {
		s, ok, err := r.store.Active(ctx, g)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Registry) Joined() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.joined == nil {
		return Session{}, false
	}
	return clone(*r.joined), true
}

func (r *Registry) InCall() bool {
	_, ok := r.Joined()
	return ok
}

// ActiveProvider is the provider of the joined group call, if any.
func (r *Registry) ActiveProvider() media.Provider {
	s, ok := r.Joined()
	if !ok {
		return media.ProviderNone
	}
	return s.Provider
}

func (r *Registry) setJoined(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := clone(s)
	r.joined = &c
	delete(r.notices, s.GroupID)
	delete(r.dismissed, s.GroupID)
}
