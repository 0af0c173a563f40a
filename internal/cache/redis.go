package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "docqa:answer:"
	redisIndexKey  = "docqa:answer-lru"
	redisClockKey  = "docqa:answer-clock"
)

// RedisBackend shares cached answers between instances. Recency lives in a
// sorted set scored by a shared INCR counter, so every use gets a distinct,
// strictly increasing score across instances; entries beyond maxEntries are
// evicted from its low end. Entries also carry a Redis TTL so abandoned keys
// expire.
type RedisBackend struct {
	rdb        redis.UniversalClient
	ttl        time.Duration
	maxEntries int
}

// NewRedisBackend creates a backend on an existing client.
func NewRedisBackend(rdb redis.UniversalClient, ttl time.Duration, maxEntries int) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &RedisBackend{rdb: rdb, ttl: ttl, maxEntries: maxEntries}
}

// Peek reads an entry without updating recency. A key that has expired in
// Redis is dropped from the recency index.
func (r *RedisBackend) Peek(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := r.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.rdb.ZRem(ctx, redisIndexKey, key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &entry, true, nil
}

// Touch moves key to the most recently used end.
func (r *RedisBackend) Touch(ctx context.Context, key string) error {
	score, err := r.score(ctx)
	if err != nil {
		return err
	}
	err = r.rdb.ZAddXX(ctx, redisIndexKey, redis.Z{Score: score, Member: key}).Err()
	if err != nil {
		return fmt.Errorf("redis zadd: %w", err)
	}
	return nil
}

// Set writes an entry and trims the recency index to maxEntries.
func (r *RedisBackend) Set(ctx context.Context, key string, entry *Entry) (int, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("encoding cache entry: %w", err)
	}

	score, err := r.score(ctx)
	if err != nil {
		return 0, err
	}

	var card *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKeyPrefix+key, data, r.ttl)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: score, Member: key})
		card = pipe.ZCard(ctx, redisIndexKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis set: %w", err)
	}

	over := card.Val() - int64(r.maxEntries)
	if over <= 0 {
		return 0, nil
	}

	victims, err := r.rdb.ZPopMin(ctx, redisIndexKey, over).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zpopmin: %w", err)
	}
	keys := make([]string, 0, len(victims))
	for _, v := range victims {
		if member, ok := v.Member.(string); ok {
			keys = append(keys, redisKeyPrefix+member)
		}
	}
	if len(keys) > 0 {
		if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
			return 0, fmt.Errorf("redis del: %w", err)
		}
	}
	return len(victims), nil
}

// Remove deletes an entry.
func (r *RedisBackend) Remove(ctx context.Context, key string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKeyPrefix+key)
		pipe.ZRem(ctx, redisIndexKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis remove: %w", err)
	}
	return nil
}

// Purge deletes every cached answer by scanning the key prefix.
func (r *RedisBackend) Purge(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, redisKeyPrefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if err := r.rdb.Del(ctx, redisIndexKey).Err(); err != nil {
		return fmt.Errorf("redis del index: %w", err)
	}
	return nil
}

// Len returns the number of indexed entries.
func (r *RedisBackend) Len(ctx context.Context) (int, error) {
	n, err := r.rdb.ZCard(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return int(n), nil
}

// score returns the next recency tick. Counter values stay below 2^53, so
// the float64 score is exact.
func (r *RedisBackend) score(ctx context.Context) (float64, error) {
	n, err := r.rdb.Incr(ctx, redisClockKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return float64(n), nil
}

var _ Backend = (*RedisBackend)(nil)
