package groupcall

import (
	"context"
	"sort"
	"sync"
)

// Store persists group sessions and pushes their changes.
//
// Create returns ErrSessionExists together with the existing session when the
// group already has one. AddParticipant, RemoveParticipant and End only act
// on the session with the given call id and return ErrNoSession otherwise.
// RemoveParticipant ends the session when nobody is left.
type Store interface {
	Active(ctx context.Context, groupID string) (Session, bool, error)
	Create(ctx context.Context, s Session) (Session, error)
	AddParticipant(ctx context.Context, groupID, callID, peerID string) (Session, error)
	RemoveParticipant(ctx context.Context, groupID, callID, peerID string) (Session, error)
	End(ctx context.Context, groupID, callID string) error
	Subscribe(ctx context.Context, groupIDs []string) (<-chan Update, error)
}

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	subs     map[chan Update]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]Session{},
		subs:     map[chan Update]map[string]struct{}{},
	}
}

func (m *MemoryStore) Active(_ context.Context, groupID string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[groupID]
	return clone(s), ok, nil
}

func (m *MemoryStore) Create(_ context.Context, s Session) (Session, error) {
	if s.GroupID == "" || s.CallID == "" || s.ChannelName == "" {
		return Session{}, ErrInvalidGroup
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.GroupID]; ok {
		return clone(cur), ErrSessionExists
	}
	s = clone(s)
	m.sessions[s.GroupID] = s
	m.publishLocked(Update{GroupID: s.GroupID, Active: true, Session: s})
	return clone(s), nil
}

func (m *MemoryStore) AddParticipant(_ context.Context, groupID, callID, peerID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[groupID]
	if !ok || s.CallID != callID {
		return Session{}, ErrNoSession
	}
	if !s.HasParticipant(peerID) {
		s.Participants = append(s.Participants, peerID)
		sort.Strings(s.Participants)
		m.sessions[groupID] = s
		m.publishLocked(Update{GroupID: groupID, Active: true, Session: clone(s)})
	}
	return clone(s), nil
}

func (m *MemoryStore) RemoveParticipant(_ context.Context, groupID, callID, peerID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[groupID]
	if !ok || s.CallID != callID {
		return Session{}, ErrNoSession
	}
	kept := s.Participants[:0:0]
	for _, p := range s.Participants {
		if p != peerID {
			kept = append(kept, p)
		}
	}
	s.Participants = kept
	if len(kept) == 0 {
		delete(m.sessions, groupID)
		m.publishLocked(Update{GroupID: groupID, Session: Session{GroupID: groupID, CallID: callID}})
		return s, nil
	}
	m.sessions[groupID] = s
	m.publishLocked(Update{GroupID: groupID, Active: true, Session: clone(s)})
	return clone(s), nil
}

func (m *MemoryStore) End(_ context.Context, groupID, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[groupID]
	if !ok || s.CallID != callID {
		return ErrNoSession
	}
	delete(m.sessions, groupID)
	m.publishLocked(Update{GroupID: groupID, Session: Session{GroupID: groupID, CallID: callID}})
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, groupIDs []string) (<-chan Update, error) {
	ch := make(chan Update, 32)
	set := make(map[string]struct{}, len(groupIDs))
	for _, g := range groupIDs {
		set[g] = struct{}{}
	}
	m.mu.Lock()
	m.subs[ch] = set
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, ch)
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (m *MemoryStore) publishLocked(u Update) {
	for ch, groups := range m.subs {
		if _, ok := groups[u.GroupID]; !ok {
			continue
		}
		select {
		case ch <- u:
		default:
		}
	}
}

func clone(s Session) Session {
	s.Participants = append([]string(nil), s.Participants...)
	return s
}
