package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/admissions-auth/internal/domain"
)

// TokenStore persists shadow token records, addressable by token value and
// by family id. Records expire with their own TTL and are never deleted
// earlier; the only mutation is the irreversible blacklist flip.
type TokenStore interface {
	Save(ctx context.Context, record *domain.TokenRecord) error
	FindByValue(ctx context.Context, token string) (*domain.TokenRecord, error)
	// BlacklistByValue flips the blacklist flag exactly once. It returns true
	// only when the record existed and was not already blacklisted, so
	// concurrent callers racing on the same token see one winner.
	BlacklistByValue(ctx context.Context, token string) (bool, error)
	// InvalidateFamily blacklists every record sharing the family id.
	InvalidateFamily(ctx context.Context, familyID string) error
}

const (
	tokenKeyPrefix  = "auth:token:"
	familyKeyPrefix = "auth:family:"
)

// blacklistScript flips the blacklist flag atomically while preserving the
// key's TTL. Returns 1 when the flip was applied, 0 when the record was
// already blacklisted, -1 when the record does not exist. A record without a
// remaining TTL is treated as gone and removed: rewriting it unexpired would
// resurrect it past its own lifetime.
var blacklistScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return -1
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("DEL", KEYS[1])
  return -1
end
local record = cjson.decode(raw)
if record.blacklisted then
  return 0
end
record.blacklisted = true
redis.call("SET", KEYS[1], cjson.encode(record), "PX", ttl)
return 1
`)

// familyAddScript adds a member to the family set and stretches the set's
// TTL to the new member's when that is longer. PTTL is -1 for a set the SADD
// just created, so the first member always installs an expiry.
var familyAddScript = redis.NewScript(`
redis.call("SADD", KEYS[1], ARGV[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < tonumber(ARGV[2]) then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

type redisTokenStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisTokenStore returns a Redis-backed TokenStore.
func NewRedisTokenStore(client *redis.Client, logger *zap.Logger) TokenStore {
	return &redisTokenStore{client: client, logger: logger}
}

func (s *redisTokenStore) Save(ctx context.Context, record *domain.TokenRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token record already expired")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}

	// Family membership must outlive its longest member so reuse detection
	// can still sweep siblings.
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKeyPrefix+record.Token, payload, ttl)
	familyAddScript.Eval(ctx, pipe, []string{familyKeyPrefix + record.FamilyID},
		record.Token, ttl.Milliseconds())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save token record: %w", err)
	}
	return nil
}

func (s *redisTokenStore) FindByValue(ctx context.Context, token string) (*domain.TokenRecord, error) {
	raw, err := s.client.Get(ctx, tokenKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find token record: %w", err)
	}

	var record domain.TokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("unmarshal token record: %w", err)
	}
	return &record, nil
}

func (s *redisTokenStore) BlacklistByValue(ctx context.Context, token string) (bool, error) {
	res, err := blacklistScript.Run(ctx, s.client, []string{tokenKeyPrefix + token}).Int()
	if err != nil {
		return false, fmt.Errorf("blacklist token record: %w", err)
	}
	return res == 1, nil
}

func (s *redisTokenStore) InvalidateFamily(ctx context.Context, familyID string) error {
	members, err := s.client.SMembers(ctx, familyKeyPrefix+familyID).Result()
	if err != nil {
		return fmt.Errorf("load family members: %w", err)
	}

	// Sibling writes carry no ordering dependency; issue them in one batch.
	// Eval instead of Run: EVALSHA fallbacks do not compose with pipelines.
	pipe := s.client.Pipeline()
	for _, token := range members {
		blacklistScript.Eval(ctx, pipe, []string{tokenKeyPrefix + token})
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("invalidate family %s: %w", familyID, err)
	}

	s.logger.Info("token family invalidated",
		zap.String("family_id", familyID),
		zap.Int("members", len(members)))
	return nil
}
