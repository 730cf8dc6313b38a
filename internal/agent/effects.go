package agent

import (
	"context"
	"time"

	"chat-calls/internal/calls"
	"chat-calls/internal/signaling"
)

// dispatch runs ev and every event its effects queue, in order, then
// publishes the resulting view. The returned error belongs to ev alone.
func (a *Agent) dispatch(ctx context.Context, ev calls.Event) error {
	err := a.step(ctx, ev)
	for len(a.pending) > 0 {
		next := a.pending[0]
		a.pending = a.pending[1:]
		_ = a.step(ctx, next)
	}
	a.publish()
	return err
}

func (a *Agent) step(ctx context.Context, ev calls.Event) error {
	prev := a.session
	next, effects, err := calls.Reduce(prev, ev, a.snapshot())
	if err != nil {
		return err
	}
	a.session = next

	if prev.Phase != next.Phase || prev.Direction != next.Direction {
		a.log.Debug("call transition",
			"from", string(prev.Phase), "to", string(next.Phase),
			"direction", string(next.Direction), "offer_id", next.OfferID)
	}
	for _, eff := range effects {
		a.execute(ctx, eff)
	}
	if !prev.IsIdle() && next.IsIdle() {
		a.publishEnded(prev, next)
	}
	return nil
}

func (a *Agent) execute(ctx context.Context, eff calls.Effect) {
	switch e := eff.(type) {
	case calls.CreateOffer:
		id, err := a.sig.CreateOffer(ctx, e.Offer)
		if err != nil {
			a.log.Warn("create offer failed", "peer", e.Offer.CalleePeerID, "error", err)
			a.pending = append(a.pending, calls.OfferCreateFailed{Gen: e.Gen, Err: err})
			return
		}
		o := e.Offer
		o.ID = id
		a.pending = append(a.pending, calls.OfferCreated{Gen: e.Gen, Offer: o})

	case calls.UpdateOfferStatus:
		a.writeStatus(ctx, e.OfferID, e.Status)

	case calls.ArmTimer:
		a.arm(e)

	case calls.DisarmTimer:
		if t, ok := a.timers[e.Timer]; ok {
			t.Stop()
			delete(a.timers, e.Timer)
		}

	case calls.JoinMedia:
		go func() {
			err := a.media.Join(ctx, e.Provider, e.Channel, e.Video)
			if err != nil {
				a.log.Warn("media join failed", "provider", string(e.Provider), "channel", e.Channel, "error", err)
			}
			a.post(calls.JoinFinished{Gen: e.Gen, Provider: e.Provider, Channel: e.Channel, Err: err})
		}()

	case calls.LeaveMedia:
		if err := a.media.Leave(ctx, e.Provider); err != nil {
			a.log.Warn("media leave failed", "provider", string(e.Provider), "error", err)
		}

	case calls.Ring:
		if e.On {
			a.ringer.Ring(ctx, e.Offer)
		} else {
			a.ringer.Silence(ctx)
		}

	case calls.RecordHistory:
		if _, err := a.hist.Record(ctx, e.Outcome); err != nil {
			a.log.Warn("history record failed", "id", e.Outcome.ID, "status", string(e.Outcome.Status), "error", err)
		}

	case calls.AmendHistory:
		if _, err := a.hist.Amend(ctx, e.ID, e.Patch); err != nil {
			a.log.Warn("history amend failed", "id", e.ID, "error", err)
		}
	}
}

// writeStatus treats losing to the peer's terminal write as a no-op.
func (a *Agent) writeStatus(ctx context.Context, id string, status calls.OfferStatus) {
	_, err := a.sig.UpdateOfferStatus(ctx, id, status)
	switch {
	case err == nil:
	case signaling.IsRaceLoss(err):
		a.log.Debug("offer status write lost race", "offer_id", id, "status", string(status), "error", err)
	default:
		a.log.Warn("offer status write failed", "offer_id", id, "status", string(status), "error", err)
	}
}

func (a *Agent) arm(e calls.ArmTimer) {
	if t, ok := a.timers[e.Timer]; ok {
		t.Stop()
	}
	ev := calls.TimerFired{Timer: e.Timer, Gen: e.Gen}
	a.timers[e.Timer] = time.AfterFunc(e.After, func() { a.post(ev) })
}

// post queues an event from another goroutine. It is dropped once the loop
// has exited.
func (a *Agent) post(ev calls.Event) {
	select {
	case a.inbox <- func(ctx context.Context) { a.dispatch(ctx, ev) }:
	case <-a.done:
	}
}

// do runs fn on the loop and waits for its result.
func (a *Agent) do(ctx context.Context, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case a.inbox <- func(loopCtx context.Context) { reply <- fn(loopCtx) }:
	case <-a.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-a.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}
