package groupcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-calls/pkg/logger"
	"chat-calls/pkg/utils"
)

// Redis layout:
//
//	groupcall:<group>               hash {call_id, session: JSON without participants}
//	groupcall:<group>:participants  set of peer ids
//	groupcalls:<group>              pub/sub channel carrying Update JSON
func sessionKey(groupID string) string      { return "groupcall:" + groupID }
func participantsKey(groupID string) string { return "groupcall:" + groupID + ":participants" }
func groupChannel(groupID string) string    { return "groupcalls:" + groupID }

// Sessions expire if every participant vanished without leaving.
const DefaultSessionTTL = 6 * time.Hour

var createScript = redis.NewScript(`
-- KEYS[1] = session hash, KEYS[2] = participants set
-- ARGV[1] = call id, ARGV[2] = session JSON, ARGV[3] = first participant, ARGV[4] = ttl_ms
-- Returns 'created' or 'exists'.
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'exists'
end
redis.call('HSET', KEYS[1], 'call_id', ARGV[1], 'session', ARGV[2])
redis.call('DEL', KEYS[2])
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('PEXPIRE', KEYS[2], ARGV[4])
return 'created'
`)

var addScript = redis.NewScript(`
-- KEYS[1] = session hash, KEYS[2] = participants set
-- ARGV[1] = call id, ARGV[2] = peer id
-- Returns 1 when the call matched, 0 otherwise.
if redis.call('HGET', KEYS[1], 'call_id') ~= ARGV[1] then
  return 0
end
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

var removeScript = redis.NewScript(`
-- KEYS[1] = session hash, KEYS[2] = participants set
-- ARGV[1] = call id, ARGV[2] = peer id
-- Returns -1 when the call did not match, else the participants left.
-- The session is deleted when nobody is left.
if redis.call('HGET', KEYS[1], 'call_id') ~= ARGV[1] then
  return -1
end
redis.call('SREM', KEYS[2], ARGV[2])
local left = redis.call('SCARD', KEYS[2])
if left == 0 then
  redis.call('DEL', KEYS[1], KEYS[2])
end
return left
`)

var endScript = redis.NewScript(`
-- KEYS[1] = session hash, KEYS[2] = participants set
-- ARGV[1] = call id
if redis.call('HGET', KEYS[1], 'call_id') ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1], KEYS[2])
return 1
`)

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (r *RedisStore) keys(groupID string) []string {
	return []string{sessionKey(groupID), participantsKey(groupID)}
}

func (r *RedisStore) Active(ctx context.Context, groupID string) (Session, bool, error) {
	raw, err := r.rdb.HGet(ctx, sessionKey(groupID), "session").Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("load group session: %w", err)
	}
	s, err := decodeSession(raw)
	if err != nil {
		return Session{}, false, err
	}
	members, err := r.rdb.SMembers(ctx, participantsKey(groupID)).Result()
	if err != nil {
		return Session{}, false, fmt.Errorf("load participants: %w", err)
	}
	sort.Strings(members)
	s.Participants = members
	return s, true, nil
}

func (r *RedisStore) Create(ctx context.Context, s Session) (Session, error) {
	if s.GroupID == "" || s.CallID == "" || s.ChannelName == "" || len(s.Participants) == 0 {
		return Session{}, ErrInvalidGroup
	}
	body := s
	body.Participants = nil
	b, err := json.Marshal(body)
	if err != nil {
		return Session{}, err
	}

	res, err := createScript.Run(ctx, r.rdb, r.keys(s.GroupID),
		s.CallID, b, s.Participants[0], r.ttl.Milliseconds()).Text()
	if err != nil {
		return Session{}, fmt.Errorf("create group session: %w", err)
	}
	if res == "exists" {
		cur, ok, err := r.Active(ctx, s.GroupID)
		if err != nil {
			return Session{}, err
		}
		if !ok {
			return Session{}, ErrNoSession
		}
		return cur, ErrSessionExists
	}

	s.Participants = s.Participants[:1]
	r.publish(ctx, Update{GroupID: s.GroupID, Active: true, Session: s})
	return s, nil
}

func (r *RedisStore) AddParticipant(ctx context.Context, groupID, callID, peerID string) (Session, error) {
	ok, err := addScript.Run(ctx, r.rdb, r.keys(groupID), callID, peerID).Int()
	if err != nil {
		return Session{}, fmt.Errorf("add participant: %w", err)
	}
	if ok != 1 {
		return Session{}, ErrNoSession
	}
	return r.publishCurrent(ctx, groupID, callID)
}

func (r *RedisStore) RemoveParticipant(ctx context.Context, groupID, callID, peerID string) (Session, error) {
	left, err := removeScript.Run(ctx, r.rdb, r.keys(groupID), callID, peerID).Int()
	if err != nil {
		return Session{}, fmt.Errorf("remove participant: %w", err)
	}
	switch {
	case left < 0:
		return Session{}, ErrNoSession
	case left == 0:
		r.publish(ctx, Update{GroupID: groupID, Session: Session{GroupID: groupID, CallID: callID}})
		return Session{GroupID: groupID, CallID: callID}, nil
	}
	return r.publishCurrent(ctx, groupID, callID)
}

func (r *RedisStore) End(ctx context.Context, groupID, callID string) error {
	ok, err := endScript.Run(ctx, r.rdb, r.keys(groupID), callID).Int()
	if err != nil {
		return fmt.Errorf("end group session: %w", err)
	}
	if ok != 1 {
		return ErrNoSession
	}
	r.publish(ctx, Update{GroupID: groupID, Session: Session{GroupID: groupID, CallID: callID}})
	return nil
}

func (r *RedisStore) Subscribe(ctx context.Context, groupIDs []string) (<-chan Update, error) {
	out := make(chan Update, 32)
	if len(groupIDs) == 0 {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	}

	channels := make([]string, 0, len(groupIDs))
	for _, g := range groupIDs {
		channels = append(channels, groupChannel(g))
	}
	ps := r.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe group calls: %w", err)
	}

	log := logger.From(ctx)
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
				var u Update
				if err := json.Unmarshal([]byte(m.Payload), &u); err != nil {
					log.Warn("dropping malformed group call push", "channel", m.Channel, "error", err)
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisStore) publishCurrent(ctx context.Context, groupID, callID string) (Session, error) {
	s, ok, err := r.Active(ctx, groupID)
	if err != nil {
		return Session{}, err
	}
	if !ok || s.CallID != callID {
		return Session{}, ErrNoSession
	}
	r.publish(ctx, Update{GroupID: groupID, Active: true, Session: s})
	return s, nil
}

func (r *RedisStore) publish(ctx context.Context, u Update) {
	if err := utils.PublishJSON(ctx, r.rdb, u, groupChannel(u.GroupID)); err != nil {
		logger.From(ctx).Warn("group call publish failed", "group_id", u.GroupID, "error", err)
	}
}

func decodeSession(raw string) (Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Session{}, fmt.Errorf("decode group session: %w", err)
	}
	return s, nil
}
