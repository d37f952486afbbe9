package session

import (
	"context"
	"sync"
	"time"

	"github.com/eventhub/partner-portal/internal/auth"
	"github.com/eventhub/partner-portal/internal/domain"
)

// MemoryStore is a process-local Store for single-instance setups and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) Create(_ context.Context, p *domain.Principal, ttl time.Duration) (*Session, error) {
	sess := New(p, ttl)
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || time.Now().After(sess.ExpiresAt) {
		delete(s.sessions, id)
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// MemoryLatch is a process-local Latch.
type MemoryLatch struct {
	mu      sync.Mutex
	claimed map[string]time.Time
}

func NewMemoryLatch() *MemoryLatch {
	return &MemoryLatch{claimed: make(map[string]time.Time)}
}

func (l *MemoryLatch) Claim(_ context.Context, token string, ttl time.Duration) (bool, error) {
	key := auth.HashToken(token)
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.claimed[key]; ok && now.Before(until) {
		return false, nil
	}
	l.claimed[key] = now.Add(ttl)
	return true, nil
}
