// Package sessions resolves bearer tokens to authenticated platform accounts.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidToken is returned when a token does not map to a live session
var ErrInvalidToken = errors.New("invalid session token")

// Session identifies an authenticated account
type Session struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Store resolves and records sessions
type Store interface {
	// Resolve returns the session a bearer token belongs to
	Resolve(ctx context.Context, token string) (*Session, error)

	// Put records a session under a token with a time-to-live
	Put(ctx context.Context, token string, session *Session, ttl time.Duration) error
}

// MemoryStore is an in-memory Store for tests and single-node setups
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (s *MemoryStore) Resolve(_ context.Context, token string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	copied := session
	return &copied, nil
}

func (s *MemoryStore) Put(_ context.Context, token string, session *Session, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[token] = *session
	return nil
}

const sessionKeyPrefix = "session:"

// RedisStore persists sessions as JSON values with a TTL
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a session store backed by a Redis client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Resolve(ctx context.Context, token string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+token).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) Put(ctx context.Context, token string, session *Session, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+token, raw, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
