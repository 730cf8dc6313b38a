package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// ErrKeyMissing is returned by HSwapIfIn when the hash does not exist.
var ErrKeyMissing = errors.New("redis key does not exist")

var hashSwapScript = redis.NewScript(`
-- KEYS[1] = hash key
-- ARGV[1] = field
-- ARGV[2] = new value
-- ARGV[3] = n, the number of allowed current values
-- ARGV[4..3+n] = allowed current values
-- ARGV[4+n..] = extra field/value pairs written on success
--
-- Returns {code, current}:
--  -1 if the hash does not exist
--   1 if swapped
--   0 if the current value is not allowed
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1, ''}
end
local cur = redis.call('HGET', KEYS[1], ARGV[1]) or ''
local n = tonumber(ARGV[3])
for i = 4, 3 + n do
  if ARGV[i] == cur then
    redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
    for j = 4 + n, #ARGV, 2 do
      redis.call('HSET', KEYS[1], ARGV[j], ARGV[j + 1])
    end
    return {1, cur}
  end
end
return {0, cur}
`)

func hashSwapArgs(field, to string, allowed []string, extra []string) []interface{} {
	args := make([]interface{}, 0, 3+len(allowed)+len(extra))
	args = append(args, field, to, len(allowed))
	for _, a := range allowed {
		args = append(args, a)
	}
	for _, e := range extra {
		args = append(args, e)
	}
	return args
}

// HSwapIfIn atomically sets key[field] = to when its current value is one of
// allowed. extra holds field/value pairs written alongside a successful swap.
//
// It returns the value seen before the attempt and whether the swap happened.
// A missing hash yields ErrKeyMissing.
func HSwapIfIn(ctx context.Context, rdb redis.Scripter, key, field, to string, allowed []string, extra ...string) (string, bool, error) {
	if rdb == nil {
		return "", false, fmt.Errorf("redis client is nil")
	}
	if key == "" || field == "" {
		return "", false, fmt.Errorf("key and field are required")
	}
	if len(extra)%2 != 0 {
		return "", false, fmt.Errorf("extra must be field/value pairs")
	}

	res, err := hashSwapScript.Run(ctx, rdb, []string{key}, hashSwapArgs(field, to, allowed, extra)...).Slice()
	if err != nil {
		return "", false, err
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("unexpected swap reply: %v", res)
	}
	code, _ := res[0].(int64)
	prev, _ := res[1].(string)
	switch code {
	case -1:
		return "", false, ErrKeyMissing
	case 1:
		return prev, true, nil
	default:
		return prev, false, nil
	}
}

// PublishJSON marshals v and publishes it on each channel.
func PublishJSON(ctx context.Context, rdb *redis.Client, v any, channels ...string) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pipe := rdb.Pipeline()
	for _, ch := range channels {
		pipe.Publish(ctx, ch, b)
	}
	_, err = pipe.Exec(ctx)
	return err
}
