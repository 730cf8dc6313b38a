package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory history repository for tests and local runs.
// It enforces owner isolation on reads.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Insert(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.entries {
		if cur.OwnerPeerID == e.OwnerPeerID && cur.ID == e.ID {
			return ErrDuplicate
		}
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, ownerPeerID, id string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.OwnerPeerID == ownerPeerID && e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (r *MemoryRepo) Amend(ctx context.Context, ownerPeerID, id string, p Patch) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.OwnerPeerID != ownerPeerID || e.ID != id {
			continue
		}
		if e.Status != StatusCompleted || e.EndedAt != nil {
			return Entry{}, ErrImmutable
		}
		ended := *p.EndedAt
		e.EndedAt = &ended
		if p.DurationSeconds != nil {
			d := *p.DurationSeconds
			e.DurationSeconds = &d
		}
		r.entries[i] = e
		return e, nil
	}
	return Entry{}, ErrNotFound
}

func (r *MemoryRepo) List(ctx context.Context, ownerPeerID string, q Query) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0)
	for _, e := range r.entries {
		if e.OwnerPeerID != ownerPeerID {
			continue
		}
		if q.PeerID != "" && e.CallerPeerID != q.PeerID && e.CalleePeerID != q.PeerID {
			continue
		}
		if q.Status != "" && e.Status != q.Status {
			continue
		}
		if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && !e.CreatedAt.Before(q.Until) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Entries returns every stored entry regardless of owner.
func (r *MemoryRepo) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
