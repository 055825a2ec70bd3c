package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces rate-limit entries in a shared Redis instance.
const redisKeyPrefix = "inkflow:ratelimit:"

// redisEntryTTL bounds how long entries survive; it must exceed the
// longest configured window so counts inside any window stay accurate.
const redisEntryTTL = 10 * time.Minute

// RedisCounter is a Counter/Observer backend over a Redis sorted set per
// (class, identity), scored by unix nanoseconds. Suitable when the
// guarded mutation has no queryable timestamp column of its own.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a counter backed by the given Redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func redisKey(class, identity string) string {
	return redisKeyPrefix + class + ":" + identity
}

// Observe records one mutation of class by identity at the given time.
func (c *RedisCounter) Observe(ctx context.Context, class, identity string, at time.Time) error {
	k := redisKey(class, identity)
	member := fmt.Sprintf("%d", at.UnixNano())

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixNano()), Member: member})
	pipe.Expire(ctx, k, redisEntryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rate limit entry: %w", err)
	}
	return nil
}

// CountInWindow returns the number of records at or after since, pruning
// entries that have aged out of the window.
func (c *RedisCounter) CountInWindow(ctx context.Context, class, identity string, since time.Time) (int, error) {
	k := redisKey(class, identity)

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("(%d", since.UnixNano()))
	count := pipe.ZCount(ctx, k, fmt.Sprintf("%d", since.UnixNano()), "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count rate limit entries: %w", err)
	}
	return int(count.Val()), nil
}
