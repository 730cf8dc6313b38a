package signaling

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-calls/internal/calls"
)

const subscriberBuffer = 64

// MemoryStore is an in-process Store. Several agents can share one instance,
// which is how the agent tests wire two peers together.
type MemoryStore struct {
	mu     sync.Mutex
	offers map[string]calls.CallOffer
	latest map[string]string
	subs   map[string]map[chan calls.CallOffer]struct{}
	clock  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		offers: map[string]calls.CallOffer{},
		latest: map[string]string{},
		subs:   map[string]map[chan calls.CallOffer]struct{}{},
		clock:  time.Now,
	}
}

func (m *MemoryStore) CreateOffer(ctx context.Context, o calls.CallOffer) (string, error) {
	if err := validateNew(o); err != nil {
		return "", err
	}
	now := m.clock().UTC()
	if strings.TrimSpace(o.ID) == "" {
		o.ID = uuid.NewString()
	}
	o.Status = calls.OfferRinging
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.CallerProviders = append(o.CallerProviders[:0:0], o.CallerProviders...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offers[o.ID]; ok {
		return "", ErrInvalidOffer
	}
	m.offers[o.ID] = o
	m.latest[o.CallerPeerID] = o.ID
	m.latest[o.CalleePeerID] = o.ID
	m.publishLocked(o)
	return o.ID, nil
}

func (m *MemoryStore) UpdateOfferStatus(ctx context.Context, id string, status calls.OfferStatus) (calls.CallOffer, error) {
	if !status.Valid() || status == calls.OfferRinging {
		return calls.CallOffer{}, ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return calls.CallOffer{}, ErrNotFound
	}
	if !calls.CanTransition(o.Status, status) {
		return o, refusal(o.Status)
	}
	o.Status = status
	o.UpdatedAt = m.clock().UTC()
	m.offers[id] = o
	m.publishLocked(o)
	return o, nil
}

func (m *MemoryStore) SubscribeToOffersFor(ctx context.Context, peerID string) (<-chan calls.CallOffer, error) {
	if strings.TrimSpace(peerID) == "" {
		return nil, ErrInvalidOffer
	}
	ch := make(chan calls.CallOffer, subscriberBuffer)

	m.mu.Lock()
	if m.subs[peerID] == nil {
		m.subs[peerID] = map[chan calls.CallOffer]struct{}{}
	}
	m.subs[peerID][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs[peerID], ch)
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (m *MemoryStore) QueryLatestOffer(ctx context.Context, peerID string) (calls.CallOffer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.latest[peerID]
	if !ok {
		return calls.CallOffer{}, false, nil
	}
	return m.offers[id], true, nil
}

// Offer returns the stored record for id.
func (m *MemoryStore) Offer(id string) (calls.CallOffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	return o, ok
}

// publishLocked fans o out to both peers. Slow subscribers drop pushes rather
// than block writers; they can recover with QueryLatestOffer.
func (m *MemoryStore) publishLocked(o calls.CallOffer) {
	for _, peer := range []string{o.CallerPeerID, o.CalleePeerID} {
		for ch := range m.subs[peer] {
			select {
			case ch <- o:
			default:
			}
		}
	}
}
