package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps slots in Redis under a namespace so several profiles can
// share one server.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore creates a Store backed by the provided client. An empty
// namespace defaults to "prism-dashboard".
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if client == nil {
		panic("storage.NewRedisStore: redis client is nil")
	}
	if namespace == "" {
		namespace = "prism-dashboard"
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (r *RedisStore) key(slot string) string {
	return r.namespace + ":" + slot
}

func (r *RedisStore) Get(ctx context.Context, slot string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key(slot)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

// Set stores the value without expiry; the session owns its lifetime.
func (r *RedisStore) Set(ctx context.Context, slot, value string) error {
	return r.client.Set(ctx, r.key(slot), value, 0).Err()
}

func (r *RedisStore) Delete(ctx context.Context, slots ...string) error {
	if len(slots) == 0 {
		return nil
	}
	keys := make([]string, len(slots))
	for i, s := range slots {
		keys[i] = r.key(s)
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
