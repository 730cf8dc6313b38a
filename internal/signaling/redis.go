package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chat-calls/internal/calls"
	"chat-calls/pkg/logger"
	"chat-calls/pkg/utils"
)

// DefaultOfferTTL bounds how long finished offer records stay in Redis.
const DefaultOfferTTL = 24 * time.Hour

// Redis layout:
//
//	offer:<id>            hash {offer: JSON, status, updated_at}
//	offers:latest:<peer>  id of the newest offer the peer takes part in
//	offers:<peer>         pub/sub channel carrying full offer JSON
//
// The status field is authoritative; the JSON copy keeps the status it was
// created with and is patched on read.
func offerKey(id string) string        { return "offer:" + id }
func latestKey(peerID string) string   { return "offers:latest:" + peerID }
func peerChannel(peerID string) string { return "offers:" + peerID }

// RedisStore is the shared Store used when peers run as separate processes.
type RedisStore struct {
	rdb   *redis.Client
	ttl   time.Duration
	clock func() time.Time
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultOfferTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, clock: time.Now}
}

func (s *RedisStore) CreateOffer(ctx context.Context, o calls.CallOffer) (string, error) {
	if err := validateNew(o); err != nil {
		return "", err
	}
	now := s.clock().UTC()
	if strings.TrimSpace(o.ID) == "" {
		o.ID = uuid.NewString()
	}
	o.Status = calls.OfferRinging
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}

	created, err := s.rdb.HSetNX(ctx, offerKey(o.ID), "offer", b).Result()
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if !created {
		return "", ErrInvalidOffer
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, offerKey(o.ID), "status", string(o.Status), "updated_at", formatTime(now))
		p.Expire(ctx, offerKey(o.ID), s.ttl)
		p.Set(ctx, latestKey(o.CallerPeerID), o.ID, s.ttl)
		p.Set(ctx, latestKey(o.CalleePeerID), o.ID, s.ttl)
		return nil
	})
	if err != nil {
		_ = s.rdb.Del(ctx, offerKey(o.ID)).Err()
		return "", fmt.Errorf("create offer: %w", err)
	}

	s.publish(ctx, o)
	return o.ID, nil
}

func (s *RedisStore) UpdateOfferStatus(ctx context.Context, id string, status calls.OfferStatus) (calls.CallOffer, error) {
	if !status.Valid() || status == calls.OfferRinging {
		return calls.CallOffer{}, ErrInvalidTransition
	}

	var allowed []string
	for _, from := range allowedFrom(status) {
		allowed = append(allowed, string(from))
	}
	now := s.clock().UTC()
	prev, swapped, err := utils.HSwapIfIn(ctx, s.rdb, offerKey(id), "status", string(status), allowed,
		"updated_at", formatTime(now))
	if errors.Is(err, utils.ErrKeyMissing) {
		return calls.CallOffer{}, ErrNotFound
	}
	if err != nil {
		return calls.CallOffer{}, fmt.Errorf("update offer status: %w", err)
	}

	o, err := s.load(ctx, id)
	if err != nil {
		return calls.CallOffer{}, err
	}
	if !swapped {
		return o, refusal(calls.OfferStatus(prev))
	}
	s.publish(ctx, o)
	return o, nil
}

func (s *RedisStore) SubscribeToOffersFor(ctx context.Context, peerID string) (<-chan calls.CallOffer, error) {
	if strings.TrimSpace(peerID) == "" {
		return nil, ErrInvalidOffer
	}
	ps := s.rdb.Subscribe(ctx, peerChannel(peerID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe offers: %w", err)
	}

	out := make(chan calls.CallOffer, subscriberBuffer)
	log := logger.From(ctx).With("peer_id", peerID)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var o calls.CallOffer
				if err := json.Unmarshal([]byte(m.Payload), &o); err != nil {
					log.Warn("dropping malformed offer push", "error", err)
					continue
				}
				select {
				case out <- o:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) QueryLatestOffer(ctx context.Context, peerID string) (calls.CallOffer, bool, error) {
	id, err := s.rdb.Get(ctx, latestKey(peerID)).Result()
	if errors.Is(err, redis.Nil) {
		return calls.CallOffer{}, false, nil
	}
	if err != nil {
		return calls.CallOffer{}, false, fmt.Errorf("query latest offer: %w", err)
	}
	o, err := s.load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return calls.CallOffer{}, false, nil
	}
	if err != nil {
		return calls.CallOffer{}, false, err
	}
	return o, true, nil
}

func (s *RedisStore) load(ctx context.Context, id string) (calls.CallOffer, error) {
	fields, err := s.rdb.HGetAll(ctx, offerKey(id)).Result()
	if err != nil {
		return calls.CallOffer{}, fmt.Errorf("load offer: %w", err)
	}
	return decodeOffer(fields)
}

// publish failures are logged only: subscribers recover through
// QueryLatestOffer and the ring timeout.
func (s *RedisStore) publish(ctx context.Context, o calls.CallOffer) {
	err := utils.PublishJSON(ctx, s.rdb, o, peerChannel(o.CallerPeerID), peerChannel(o.CalleePeerID))
	if err != nil {
		logger.From(ctx).Warn("offer publish failed", "offer_id", o.ID, "error", err)
	}
}

func decodeOffer(fields map[string]string) (calls.CallOffer, error) {
	raw, ok := fields["offer"]
	if !ok {
		return calls.CallOffer{}, ErrNotFound
	}
	var o calls.CallOffer
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return calls.CallOffer{}, fmt.Errorf("decode offer: %w", err)
	}
	if st := calls.OfferStatus(fields["status"]); st.Valid() {
		o.Status = st
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		o.UpdatedAt = ts
	}
	return o, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
