package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

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

var presenceTouchScript = redis.NewScript(`
-- KEYS[1] = presence key for one user
-- ARGV[1] = unix millis of the touch
-- ARGV[2] = ttl_ms (int)
--
-- Stores the last-seen timestamp and refreshes the TTL in one round trip.
-- Returns the previous value (or false when the user was not marked).
local prev = redis.call('GET', KEYS[1])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return prev
`)

// TouchPresence atomically records a last-seen timestamp for key with a TTL.
// It returns the previous mark (zero when the key did not exist), so callers
// can tell a fresh appearance from a refresh.
//
// Safety properties:
// - Single Lua round trip; no read-modify-write race between processes.
// - TTL prevents stale presence marks after a process crash.
func TouchPresence(ctx context.Context, rdb *redis.Client, key string, at time.Time, ttl time.Duration) (time.Time, error) {
	if rdb == nil {
		return time.Time{}, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return time.Time{}, fmt.Errorf("key is required")
	}
	if ttl <= 0 {
		return time.Time{}, fmt.Errorf("ttl must be > 0")
	}

	res, err := presenceTouchScript.Run(ctx, rdb, []string{key}, at.UnixMilli(), ttl.Milliseconds()).Result()
	if err != nil {
		return time.Time{}, err
	}
	prev, ok := res.(string)
	if !ok || prev == "" {
		return time.Time{}, nil
	}
	return parsePresenceMark(prev), nil
}

// parsePresenceMark decodes the unix-millis value stored by TouchPresence.
// A value that does not parse yields the zero time, same as no mark.
func parsePresenceMark(s string) time.Time {
	var millis int64
	if _, err := fmt.Sscan(s, &millis); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

// LastSeen reads a presence mark written by TouchPresence.
// A zero time with nil error means the user has no live mark.
func LastSeen(ctx context.Context, rdb *redis.Client, key string) (time.Time, error) {
	if rdb == nil {
		return time.Time{}, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return time.Time{}, fmt.Errorf("key is required")
	}
	res, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return parsePresenceMark(res), nil
}
