package users

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fluxfolio/engine/pkg/models"
)

const userKeyPrefix = "user:"

// RedisStore persists user records as JSON values keyed by username
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a user store backed by a Redis client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	raw, err := s.client.Get(ctx, userKeyPrefix+username).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", username, err)
	}
	return &user, nil
}

func (s *RedisStore) Save(ctx context.Context, user *models.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.Username, err)
	}
	if err := s.client.Set(ctx, userKeyPrefix+user.Username, raw, 0).Err(); err != nil {
		return fmt.Errorf("save user %s: %w", user.Username, err)
	}
	return nil
}
