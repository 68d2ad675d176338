package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces all keys written by the Redis backend.
const DefaultRedisPrefix = "feedcache:"

// Redis stores records as plain string keys "<prefix><namespace>:<key>".
// Records never carry a Redis TTL: expired entries must stay readable for
// stale serving.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(ns Namespace, key string) string {
	return r.prefix + recordKey(ns, key)
}

func (r *Redis) Get(ctx context.Context, ns Namespace, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(ns, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (r *Redis) Put(ctx context.Context, ns Namespace, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(ns, key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := r.client.Del(ctx, r.key(ns, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear deletes every key of the namespace using SCAN so large namespaces do
// not block the server.
func (r *Redis) Clear(ctx context.Context, ns Namespace) error {
	match := r.prefix + namespacePrefix(ns) + "*"
	iter := r.client.Scan(ctx, 0, match, 500).Iterator()

	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, ns Namespace) ([]string, error) {
	prefix := r.prefix + namespacePrefix(ns)
	iter := r.client.Scan(ctx, 0, prefix+"*", 500).Iterator()

	var out []string
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
