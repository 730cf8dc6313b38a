// Package directory answers which groups a peer belongs to.
package directory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrInvalidMember = errors.New("directory: group and peer ids are required")

// Directory is the read side the group call registry needs, plus Add for
// seeding memberships.
type Directory interface {
	GroupsOf(ctx context.Context, peerID string) ([]string, error)
	IsMember(ctx context.Context, groupID, peerID string) (bool, error)
	Add(ctx context.Context, groupID, peerID string) error
}

func validMember(groupID, peerID string) bool {
	return strings.TrimSpace(groupID) != "" && strings.TrimSpace(peerID) != ""
}

type Memory struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // group -> peers
}

func NewMemory() *Memory {
	return &Memory{members: map[string]map[string]struct{}{}}
}

func (m *Memory) Add(_ context.Context, groupID, peerID string) error {
	if !validMember(groupID, peerID) {
		return ErrInvalidMember
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[groupID] == nil {
		m.members[groupID] = map[string]struct{}{}
	}
	m.members[groupID][peerID] = struct{}{}
	return nil
}

func (m *Memory) GroupsOf(_ context.Context, peerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for g, peers := range m.members {
		if _, ok := peers[peerID]; ok {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) IsMember(_ context.Context, groupID, peerID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[groupID][peerID]
	return ok, nil
}
