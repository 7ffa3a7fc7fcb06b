package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "apotekpos:stats"

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisStatsCache namespaces entries under a generation counter. Invalidate
// bumps the counter so older entries are never read again and expire by TTL.
// Set writes under the generation the caller observed, so a value computed
// before an invalidation lands in a namespace nobody reads.
type RedisStatsCache struct {
	client *redis.Client
	prefix string
}

func NewRedisStatsCache(client *redis.Client) *RedisStatsCache {
	return &RedisStatsCache{client: client, prefix: defaultKeyPrefix}
}

// WithPrefix returns a cache sharing the client under another key namespace.
func (c *RedisStatsCache) WithPrefix(prefix string) *RedisStatsCache {
	return &RedisStatsCache{client: c.client, prefix: prefix}
}

func (c *RedisStatsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStatsCache) Close() error {
	return c.client.Close()
}

func (c *RedisStatsCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return gen, nil
}

func (c *RedisStatsCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	gen, err := c.Generation(ctx)
	if err != nil {
		return false, err
	}
	fullKey := c.entryKey(gen, key)

	val, err := c.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, generation int64, key string, value any, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.entryKey(generation, key), payload, ttl).Err()
}

func (c *RedisStatsCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.generationKey()).Err()
}

func (c *RedisStatsCache) entryKey(generation int64, key string) string {
	return c.prefix + ":" + strconv.FormatInt(generation, 10) + ":" + key
}

func (c *RedisStatsCache) generationKey() string {
	return c.prefix + ":gen"
}
