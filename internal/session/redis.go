package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "session:"

// RedisBackend stores each session as a Redis hash with a TTL refreshed on
// every write.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Load(ctx context.Context, sid string) (map[string]string, error) {
	values, err := b.client.HGetAll(ctx, redisKeyPrefix+sid).Result()
	if err != nil {
		return nil, fmt.Errorf("redis session load: %w", err)
	}
	if values == nil {
		values = make(map[string]string)
	}
	return values, nil
}

// Save replaces the stored hash wholesale so cleared keys do not linger.
func (b *RedisBackend) Save(ctx context.Context, sid string, values map[string]string, ttl time.Duration) error {
	key := redisKeyPrefix + sid

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis session save: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, sid string) error {
	if err := b.client.Del(ctx, redisKeyPrefix+sid).Err(); err != nil {
		return fmt.Errorf("redis session delete: %w", err)
	}
	return nil
}
