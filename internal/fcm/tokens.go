package fcm

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eventhub/partner-portal/internal/domain"
)

const tokenTTL = 60 * 24 * time.Hour

// RedisTokenStore keeps each principal's device tokens in a redis set.
type RedisTokenStore struct {
	rdb    *redis.Client
	prefix string
}

var _ domain.PushTokenRepository = (*RedisTokenStore)(nil)

func NewRedisTokenStore(rdb *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb, prefix: "portal:push:"}
}

func (s *RedisTokenStore) AddPushToken(ctx context.Context, principalID, token string) error {
	key := s.prefix + principalID
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, key, token)
	pipe.Expire(ctx, key, tokenTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisTokenStore) GetPushTokens(ctx context.Context, principalID string) ([]string, error) {
	return s.rdb.SMembers(ctx, s.prefix+principalID).Result()
}

func (s *RedisTokenStore) RemovePushToken(ctx context.Context, principalID, token string) error {
	return s.rdb.SRem(ctx, s.prefix+principalID, token).Err()
}

// MemoryTokenStore is a process-local token store.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string][]string
}

var _ domain.PushTokenRepository = (*MemoryTokenStore)(nil)

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string][]string)}
}

func (s *MemoryTokenStore) AddPushToken(_ context.Context, principalID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens[principalID] {
		if t == token {
			return nil
		}
	}
	s.tokens[principalID] = append(s.tokens[principalID], token)
	return nil
}

func (s *MemoryTokenStore) GetPushTokens(_ context.Context, principalID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tokens[principalID]))
	copy(out, s.tokens[principalID])
	return out, nil
}

func (s *MemoryTokenStore) RemovePushToken(_ context.Context, principalID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tokens[principalID][:0]
	for _, t := range s.tokens[principalID] {
		if t != token {
			kept = append(kept, t)
		}
	}
	s.tokens[principalID] = kept
	return nil
}
