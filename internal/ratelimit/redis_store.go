package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "ratelimit::"

var _ Store = (*RedisStore)(nil)

// RedisStore is the primary rate limit backend
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rate limit entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal rate limit entry: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal rate limit entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, entryBytes, ttl).Err(); err != nil {
		return fmt.Errorf("set rate limit entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete rate limit entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Name() string {
	return "redis"
}
