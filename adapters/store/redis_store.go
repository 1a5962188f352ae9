package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/slashauth/core"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces slashauth keys inside a shared Redis database
const DefaultRedisPrefix = "slashauth:"

// RedisStore is a Redis implementation of Storage. It deliberately does not
// implement KeyLister so bulk clears go through the key manifest.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
	}
}

// NewRedisStoreFromURL parses redisURL and checks the connection
func NewRedisStoreFromURL(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStore(client), nil
}

// Set stores a key with a value and expiration time
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", core.ErrStoreOperationFailed, key, err)
	}
	return nil
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrNotFound
		}
		return "", fmt.Errorf("%w: get %s: %v", core.ErrStoreOperationFailed, key, err)
	}
	return value, nil
}

// Remove deletes a key
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", core.ErrStoreOperationFailed, key, err)
	}
	return nil
}

// Client returns the Redis client so the locker and event streams can share it
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
