package agent

import (
	"context"

	"chat-calls/internal/calls"
)

// State returns the latest published view.
func (a *Agent) State() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view
}

// Subscribe delivers every published view until ctx is cancelled. Slow
// readers miss intermediate views but State always has the latest.
func (a *Agent) Subscribe(ctx context.Context) <-chan View {
	ch := make(chan View, 16)
	a.mu.Lock()
	a.subs[ch] = struct{}{}
	ch <- a.view
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		delete(a.subs, ch)
		a.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (a *Agent) buildView() View {
	v := View{
		Call:                a.session,
		DoNotDisturb:        a.dnd,
		PreferDecentralized: a.preferDecentralized,
	}
	if a.groups != nil {
		if s, ok := a.groups.Joined(); ok {
			v.Group = &s
		}
		v.GroupNotices = a.groups.Notices()
	}
	return v
}

func (a *Agent) publish() {
	a.send(a.buildView())
}

// publishEnded shows the finished call once before the idle view replaces it.
func (a *Agent) publishEnded(prev, next calls.Session) {
	v := a.buildView()
	v.Call = prev
	v.Call.Phase = calls.PhaseEnded
	v.Call.Error = next.Error
	v.Call.LastOutcome = next.LastOutcome
	a.send(v)
}

func (a *Agent) send(v View) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.view = v
	for ch := range a.subs {
		select {
		case ch <- v:
		default:
		}
	}
}
