package agent

import (
	"context"

	"github.com/google/uuid"

	"chat-calls/internal/calls"
	"chat-calls/internal/groupcall"
	"chat-calls/internal/media"
	"chat-calls/internal/routing"
)

// Start places a 1:1 call to peerID.
func (a *Agent) Start(ctx context.Context, peerID string, kind calls.Kind) error {
	return a.do(ctx, func(ctx context.Context) error {
		return a.dispatch(ctx, calls.StartRequested{
			PeerID:      peerID,
			Kind:        kind,
			DisplayName: a.cfg.DisplayName,
			Nonce:       uuid.NewString(),
		})
	})
}

func (a *Agent) Accept(ctx context.Context) error {
	return a.intent(ctx, calls.AcceptRequested{})
}

func (a *Agent) Reject(ctx context.Context) error {
	return a.intent(ctx, calls.RejectRequested{})
}

func (a *Agent) Cancel(ctx context.Context) error {
	return a.intent(ctx, calls.CancelRequested{})
}

func (a *Agent) End(ctx context.Context) error {
	return a.intent(ctx, calls.EndRequested{})
}

func (a *Agent) intent(ctx context.Context, ev calls.Event) error {
	return a.do(ctx, func(ctx context.Context) error { return a.dispatch(ctx, ev) })
}

// Toggle flips a media control on whichever call currently holds media.
func (a *Agent) Toggle(ctx context.Context, t media.Toggle) (bool, error) {
	if !t.Valid() {
		return false, media.ErrUnknownToggle
	}
	var on bool
	err := a.do(ctx, func(ctx context.Context) error {
		p := media.ProviderNone
		switch {
		case a.session.MediaJoined():
			p = a.session.Provider
		case a.groups != nil && a.groups.InCall():
			p = a.groups.ActiveProvider()
		}
		if p == media.ProviderNone {
			return ErrNotInCall
		}
		var err error
		on, err = a.media.Toggle(ctx, p, t)
		return err
	})
	return on, err
}

// StartOrJoinGroup joins the group's active call or starts one. It is refused
// while a 1:1 call is in any phase other than idle, and while a 1:1 join is
// still settling.
func (a *Agent) StartOrJoinGroup(ctx context.Context, groupID string, video bool) (groupcall.Session, error) {
	if a.groups == nil {
		return groupcall.Session{}, groupcall.ErrInvalidGroup
	}
	var out groupcall.Session
	err := a.do(ctx, func(ctx context.Context) error {
		s, err := a.groups.StartOrJoin(ctx, groupID, video, groupcall.JoinOptions{
			Busy:  !a.session.IsIdle() || a.session.JoinSettling(),
			Prefs: a.snapshot().Routing,
		})
		if err != nil {
			return err
		}
		out = s
		a.publish()
		return nil
	})
	return out, err
}

func (a *Agent) LeaveGroup(ctx context.Context, groupID string) error {
	if a.groups == nil {
		return groupcall.ErrNotJoined
	}
	return a.do(ctx, func(ctx context.Context) error {
		if err := a.groups.Leave(ctx, groupID); err != nil {
			return err
		}
		a.publish()
		return nil
	})
}

// DismissGroupNotice hides an incoming group call notice.
func (a *Agent) DismissGroupNotice(ctx context.Context, groupID string) (bool, error) {
	if a.groups == nil {
		return false, nil
	}
	var dismissed bool
	err := a.do(ctx, func(ctx context.Context) error {
		dismissed = a.groups.Dismiss(groupID)
		if dismissed {
			a.publish()
		}
		return nil
	})
	return dismissed, err
}

func (a *Agent) GroupSessions(ctx context.Context) ([]groupcall.Session, error) {
	if a.groups == nil {
		return nil, nil
	}
	return a.groups.Sessions(ctx)
}

func (a *Agent) SetDoNotDisturb(ctx context.Context, on bool) error {
	return a.do(ctx, func(ctx context.Context) error {
		a.dnd = on
		a.publish()
		return nil
	})
}

func (a *Agent) SetPreferDecentralized(ctx context.Context, on bool) error {
	return a.do(ctx, func(ctx context.Context) error {
		a.preferDecentralized = on
		a.publish()
		return nil
	})
}

// Routing reports the provider a new call would use right now.
func (a *Agent) Routing(ctx context.Context) (routing.Preferences, error) {
	var p routing.Preferences
	err := a.do(ctx, func(ctx context.Context) error {
		p = a.snapshot().Routing
		return nil
	})
	return p, err
}
