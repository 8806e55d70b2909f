package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyHeader carries a client generated key for a kanban move.
const IdempotencyHeader = "Idempotency-Key"

// Deduper remembers which idempotency keys were already accepted.
type Deduper interface {
	// Add records key for scope and reports whether it was new.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove forgets key so the caller may retry.
	Remove(ctx context.Context, scope, key string) error
}

// RedisDeduper stores accepted keys in Redis so every dashboard process
// sharing the instance rejects a replayed move.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisDeduper) key(scope, key string) string {
	return fmt.Sprintf("%s:idem:%s:%s", r.prefix, scope, key)
}

func (r *RedisDeduper) Add(ctx context.Context, scope, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(scope, key), 1, r.ttl).Result()
}

func (r *RedisDeduper) Remove(ctx context.Context, scope, key string) error {
	return r.client.Del(ctx, r.key(scope, key)).Err()
}
