package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of *redis.Client the store needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore keeps each snapshot under one key. SET replaces the value in a
// single command.
type RedisStore struct {
	client redisClient
	prefix string
}

// NewRedisStore connects to addr.
func NewRedisStore(addr, prefix string) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redisClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Load reads a snapshot.
func (s *RedisStore) Load(ctx context.Context, name string) (Snapshot, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("redis get checkpoint: %w", err)
	}
	snap, err := Decode([]byte(val))
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("checkpoint %s: %w", name, err)
	}
	return snap, true, nil
}

// Save writes a snapshot without expiry.
func (s *RedisStore) Save(ctx context.Context, name string, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+name, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set checkpoint: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
