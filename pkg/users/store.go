// Package users persists platform account records and the on-chain
// identifiers attached to them.
package users

import (
	"context"
	"errors"
	"sync"

	"github.com/fluxfolio/engine/pkg/models"
)

// ErrNotFound is returned when no user matches the lookup
var ErrNotFound = errors.New("user not found")

// Store persists user records
type Store interface {
	// GetByUsername returns the user registered under a username
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// Save upserts a user record keyed by username
	Save(ctx context.Context, user *models.User) error
}

// MemoryStore is an in-memory Store for tests and single-node setups
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory user store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]models.User)}
}

func (s *MemoryStore) GetByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (s *MemoryStore) Save(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.Username] = *user
	return nil
}
