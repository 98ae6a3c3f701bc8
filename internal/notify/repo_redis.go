package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEnvelopeRepo stores envelopes in redis. Each idempotency key maps to
// one value, so a plain SET is the supersede operation; key TTLs bound how
// long an unclaimed notification lingers after the recency window closes.
//
// Keys:
//
//	notify:env:<recipient>:<session>:<type>  -> envelope JSON (TTL)
//	notify:env:idx:<recipient>               -> set of the recipient's keys
type RedisEnvelopeRepo struct {
	rdb *redis.Client

	// retention is the key TTL; kept longer than the envelope's own
	// ExpiresAt so expired envelopes remain inspectable for a while.
	retention time.Duration
}

func NewRedisEnvelopeRepo(rdb *redis.Client, retention time.Duration) *RedisEnvelopeRepo {
	if retention <= 0 {
		retention = time.Hour
	}
	return &RedisEnvelopeRepo{rdb: rdb, retention: retention}
}

// EnvelopeRetention sizes the key TTL for a given envelope window.
// Retention must outlive the window, or redis would evict envelopes that
// ListPending still owes to polling clients.
func EnvelopeRetention(window time.Duration) time.Duration {
	if window < time.Hour {
		return time.Hour
	}
	return window
}

func redisEnvelopeKey(recipientID, sessionID string, t EventType) string {
	return "notify:env:" + recipientID + ":" + sessionID + ":" + string(t)
}

func redisIndexKey(recipientID string) string {
	return "notify:env:idx:" + recipientID
}

func (r *RedisEnvelopeRepo) Upsert(ctx context.Context, env Envelope) (Envelope, bool, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, false, err
	}

	key := redisEnvelopeKey(env.RecipientID, env.SessionID, env.Type)

	// SET ... GET returns the previous value in the same round trip, which
	// is how we learn whether this write superseded a live envelope.
	prev, err := r.rdb.SetArgs(ctx, key, payload, redis.SetArgs{
		TTL: r.retention,
		Get: true,
	}).Result()
	superseded := false
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return Envelope{}, false, err
		}
	} else if prev != "" {
		superseded = true
	}

	idx := redisIndexKey(env.RecipientID)
	if err := r.rdb.SAdd(ctx, idx, key).Err(); err != nil {
		return Envelope{}, false, err
	}
	if err := r.rdb.Expire(ctx, idx, r.retention).Err(); err != nil {
		return Envelope{}, false, err
	}
	return env, superseded, nil
}

func (r *RedisEnvelopeRepo) ListByRecipient(ctx context.Context, recipientID string) ([]Envelope, error) {
	idx := redisIndexKey(recipientID)
	keys, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var out []Envelope
	var stale []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Value evicted by TTL; drop the index member lazily.
			stale = append(stale, keys[i])
			continue
		}
		var e Envelope
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if len(stale) > 0 {
		staleMembers := make([]any, len(stale))
		for i, s := range stale {
			staleMembers[i] = s
		}
		_ = r.rdb.SRem(ctx, idx, staleMembers...).Err()
	}
	return out, nil
}

func (r *RedisEnvelopeRepo) Clear(ctx context.Context, sessionID, recipientID string) error {
	for _, t := range []EventType{EventInvitation, EventStatusChange} {
		key := redisEnvelopeKey(recipientID, sessionID, t)
		if err := r.rdb.Del(ctx, key).Err(); err != nil {
			return err
		}
		if err := r.rdb.SRem(ctx, redisIndexKey(recipientID), key).Err(); err != nil {
			return err
		}
	}
	return nil
}
