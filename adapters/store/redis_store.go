package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the Backend interface
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "zkauth:session:",
	}
}

var _ ports.Backend = (*RedisStore)(nil)

func (s *RedisStore) Name() string { return "redis" }

// Get retrieves a record from Redis
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to read session record: %w", err)
	}
	return val, nil
}

// Set stores a record with expiration
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return nil
}

// Delete removes a record
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}
