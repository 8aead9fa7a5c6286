package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adamscao/breakglass/internal/clock"
	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/models"
)

// Each nonce is a hash with fields state, request_id and expires_at (unix
// ms). Redis expires the key at the nonce expiry, and the read scripts re-check
// expires_at against the caller's clock (ARGV[1], unix ms) so a key that
// has not been evicted yet is still rejected. The state field is
// "pending" or "consumed".

// consumeScript returns 1 when the nonce was fresh and is now consumed,
// 0 when unknown, -1 when consumed and -2 when expired.
var consumeScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return 0
end
if state ~= 'pending' then
  return -1
end
local now = tonumber(ARGV[1])
if now >= tonumber(redis.call('HGET', KEYS[1], 'expires_at')) then
  return -2
end
redis.call('HSET', KEYS[1], 'state', 'consumed')
return 1
`)

// isUsedScript returns 1 when the nonce must be rejected
var isUsedScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'state', 'expires_at')
if not v[1] then
  return 1
end
if v[1] ~= 'pending' then
  return 1
end
local now = tonumber(ARGV[1])
if now >= tonumber(v[2]) then
  return 1
end
return 0
`)

// markUsedScript returns 0 when the key is gone. It never recreates a key,
// so the expiry set by Add stays in place.
var markUsedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'consumed')
return 1
`)

// addScript returns 0 when the key already exists. ARGV is request_id,
// expires_at (unix ms).
var addScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'pending', 'request_id', ARGV[1], 'expires_at', ARGV[2])
redis.call('PEXPIREAT', KEYS[1], ARGV[2])
return 1
`)

// RedisStore is a Store shared between server instances
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// NewRedisStore creates a store using keys "<prefix><nonce>". A nil clock
// uses wall time.
func NewRedisStore(client redis.UniversalClient, prefix string, c clock.Clock) *RedisStore {
	if prefix == "" {
		prefix = "breakglass:nonce:"
	}
	if c == nil {
		c = clock.Real()
	}
	return &RedisStore{client: client, prefix: prefix, clock: c}
}

func (s *RedisStore) key(nonce string) string {
	return s.prefix + nonce
}

// Add implements Store
func (s *RedisStore) Add(ctx context.Context, rec models.NonceRecord) error {
	if rec.Nonce == "" {
		return fmt.Errorf("%w: nonce is required", errs.ErrValidation)
	}
	added, err := addScript.Run(ctx, s.client, []string{s.key(rec.Nonce)},
		rec.RequestID, rec.ExpiresAt.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("failed to add nonce: %w", err)
	}
	if added == 0 {
		return fmt.Errorf("%w: nonce already registered", errs.ErrState)
	}
	return nil
}

// IsUsed implements Store
func (s *RedisStore) IsUsed(ctx context.Context, nonce string) (bool, error) {
	used, err := isUsedScript.Run(ctx, s.client, []string{s.key(nonce)}, s.clock.Now().UnixMilli()).Int()
	if err != nil {
		// Unknown state is rejected.
		return true, fmt.Errorf("failed to check nonce: %w", err)
	}
	return used == 1, nil
}

// MarkUsed implements Store
func (s *RedisStore) MarkUsed(ctx context.Context, nonce string) error {
	marked, err := markUsedScript.Run(ctx, s.client, []string{s.key(nonce)}).Int()
	if err != nil {
		return fmt.Errorf("failed to mark nonce: %w", err)
	}
	if marked == 0 {
		return fmt.Errorf("%w: nonce", errs.ErrNotFound)
	}
	return nil
}

// Consume implements Store
func (s *RedisStore) Consume(ctx context.Context, nonce string) (models.NonceRecord, error) {
	key := s.key(nonce)
	res, err := consumeScript.Run(ctx, s.client, []string{key}, s.clock.Now().UnixMilli()).Int()
	if err != nil {
		return models.NonceRecord{}, fmt.Errorf("failed to consume nonce: %w", err)
	}
	switch res {
	case 1:
	case -1:
		return models.NonceRecord{}, fmt.Errorf("%w: nonce already consumed", errs.ErrReplay)
	case -2:
		return models.NonceRecord{}, fmt.Errorf("%w: nonce expired", errs.ErrReplay)
	default:
		return models.NonceRecord{}, fmt.Errorf("%w: unknown nonce", errs.ErrReplay)
	}

	rec := models.NonceRecord{Nonce: nonce, Consumed: true}
	vals, err := s.client.HMGet(ctx, key, "request_id", "expires_at").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return rec, fmt.Errorf("failed to read nonce: %w", err)
	}
	if len(vals) == 2 {
		if v, ok := vals[0].(string); ok {
			rec.RequestID = v
		}
		if v, ok := vals[1].(string); ok {
			var ms int64
			if _, err := fmt.Sscanf(v, "%d", &ms); err == nil {
				rec.ExpiresAt = time.UnixMilli(ms)
			}
		}
	}
	return rec, nil
}

// CleanupExpired implements Store. Redis evicts expired keys itself.
func (s *RedisStore) CleanupExpired(context.Context) (int, error) {
	return 0, nil
}
