package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"chat-calls/pkg/logger"
)

// Repository is the persistence contract for call history.
//
// Insert is append-only. Amend may only fill in the end of a completed entry
// that has not been ended yet; implementations return ErrImmutable otherwise.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	Get(ctx context.Context, ownerPeerID, id string) (Entry, error)
	Amend(ctx context.Context, ownerPeerID, id string, p Patch) (Entry, error)
	List(ctx context.Context, ownerPeerID string, q Query) ([]Entry, error)
}

// Build turns a terminal outcome into an entry. It is pure so the state
// machine's accounting can be checked without a repository.
func Build(ownerPeerID string, o Outcome, now time.Time) (Entry, error) {
	if ownerPeerID == "" || o.ID == "" || o.CallerPeerID == "" || o.CalleePeerID == "" {
		return Entry{}, ErrInvalidEntry
	}
	if ownerPeerID != o.CallerPeerID && ownerPeerID != o.CalleePeerID {
		return Entry{}, fmt.Errorf("%w: owner %q is not a participant", ErrInvalidEntry, ownerPeerID)
	}
	if !o.Status.Valid() {
		return Entry{}, fmt.Errorf("%w: status %q", ErrInvalidEntry, o.Status)
	}

	e := Entry{
		ID:           o.ID,
		OwnerPeerID:  ownerPeerID,
		CallerPeerID: o.CallerPeerID,
		CalleePeerID: o.CalleePeerID,
		CallKind:     o.CallKind,
		Status:       o.Status,
		ChannelName:  o.ChannelName,
		CreatedAt:    now.UTC(),
	}

	// Only completed calls carry timing.
	if o.Status != StatusCompleted {
		return e, nil
	}
	if o.StartedAt.IsZero() {
		return Entry{}, fmt.Errorf("%w: completed entry without start", ErrInvalidEntry)
	}
	started := o.StartedAt.UTC()
	e.StartedAt = &started
	if !o.EndedAt.IsZero() {
		p := Finish(o.StartedAt, o.EndedAt)
		e.EndedAt = p.EndedAt
		e.DurationSeconds = p.DurationSeconds
	}
	return e, nil
}

// Finish computes the patch closing a completed entry. An end before the
// start is clamped to the start.
func Finish(startedAt, endedAt time.Time) Patch {
	if endedAt.Before(startedAt) {
		endedAt = startedAt
	}
	end := endedAt.UTC()
	d := Duration(startedAt, endedAt)
	return Patch{EndedAt: &end, DurationSeconds: &d}
}

// Duration returns whole seconds between start and end, rounded, never negative.
func Duration(startedAt, endedAt time.Time) int {
	if !endedAt.After(startedAt) {
		return 0
	}
	return int(math.Round(endedAt.Sub(startedAt).Seconds()))
}

// Recorder records the local participant's history.
type Recorder struct {
	repo  Repository
	owner string
	clock func() time.Time
}

func NewRecorder(repo Repository, ownerPeerID string) *Recorder {
	return &Recorder{repo: repo, owner: ownerPeerID, clock: time.Now}
}

func (r *Recorder) Record(ctx context.Context, o Outcome) (Entry, error) {
	if r.repo == nil {
		return Entry{}, errors.New("history: repository not configured")
	}
	e, err := Build(r.owner, o, r.clock())
	if err != nil {
		return Entry{}, err
	}
	if err := r.repo.Insert(ctx, e); err != nil {
		return Entry{}, err
	}
	logger.From(ctx).Info("call history recorded",
		slog.String("entry_id", e.ID),
		slog.String("status", string(e.Status)),
		slog.String("call_kind", e.CallKind),
	)
	return e, nil
}

func (r *Recorder) Amend(ctx context.Context, id string, p Patch) (Entry, error) {
	if r.repo == nil {
		return Entry{}, errors.New("history: repository not configured")
	}
	if id == "" || p.EndedAt == nil {
		return Entry{}, ErrInvalidPatch
	}
	if p.DurationSeconds != nil && *p.DurationSeconds < 0 {
		return Entry{}, ErrInvalidPatch
	}

	cur, err := r.repo.Get(ctx, r.owner, id)
	if err != nil {
		return Entry{}, err
	}
	if cur.Status != StatusCompleted || cur.EndedAt != nil || cur.StartedAt == nil {
		return Entry{}, ErrImmutable
	}
	if p.EndedAt.Before(*cur.StartedAt) {
		return Entry{}, fmt.Errorf("%w: ended_at before started_at", ErrInvalidPatch)
	}
	if p.DurationSeconds == nil {
		d := Duration(*cur.StartedAt, *p.EndedAt)
		p.DurationSeconds = &d
	}

	e, err := r.repo.Amend(ctx, r.owner, id, p)
	if err != nil {
		return Entry{}, err
	}
	logger.From(ctx).Info("call history amended",
		slog.String("entry_id", e.ID),
		slog.Int("duration_seconds", *e.DurationSeconds),
	)
	return e, nil
}

func (r *Recorder) List(ctx context.Context, q Query) ([]Entry, error) {
	if r.repo == nil {
		return nil, errors.New("history: repository not configured")
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, ErrInvalidEntry
	}
	return r.repo.List(ctx, r.owner, q)
}
