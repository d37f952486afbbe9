package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eventhub/partner-portal/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

// Session binds a browser to an authenticated principal.
type Session struct {
	ID          string            `json:"id"`
	Principal   *domain.Principal `json:"principal"`
	AccessToken string            `json:"access_token"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Store persists sessions for their lifetime.
type Store interface {
	Create(ctx context.Context, p *domain.Principal, ttl time.Duration) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// RedisStore keeps sessions as JSON values with a TTL.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a new redis-backed session store
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "portal:session:"}
}

// New builds a session value for a principal without persisting it.
func New(p *domain.Principal, ttl time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          uuid.NewString(),
		Principal:   p,
		AccessToken: p.AccessToken,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Create stores a fresh session for the principal.
func (s *RedisStore) Create(ctx context.Context, p *domain.Principal, ttl time.Duration) (*Session, error) {
	sess := New(p, ttl)

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.rdb.Set(ctx, s.prefix+sess.ID, data, ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return sess, nil
}

// Get loads a live session. The principal's access token is restored from
// the stored copy since Principal does not serialize it.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.rdb.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if sess.Principal == nil || time.Now().After(sess.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	sess.Principal.AccessToken = sess.AccessToken
	return &sess, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.prefix+id).Err()
}
