package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// RedisStore keeps each document as a JSON string under a prefixed key
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a store using client; prefix defaults to "hevygrow:"
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "hevygrow:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(doc string) string {
	return r.prefix + doc
}

func (r *RedisStore) LoadWhitelist(ctx context.Context) (Set, error) {
	return r.loadSet(ctx, docWhitelist)
}

func (r *RedisStore) LoadUnfollowed(ctx context.Context) (Set, error) {
	return r.loadSet(ctx, docUnfollowed)
}

func (r *RedisStore) SaveUnfollowed(ctx context.Context, s Set) error {
	return r.set(ctx, docUnfollowed, s.Sorted())
}

func (r *RedisStore) LoadFollowCache(ctx context.Context) (FollowCache, error) {
	cache := FollowCache{}
	ok, err := r.get(ctx, docFollowCache, &cache)
	if err != nil {
		return nil, err
	}
	if !ok || cache == nil {
		return FollowCache{}, nil
	}
	return cache, nil
}

func (r *RedisStore) SaveFollowCache(ctx context.Context, c FollowCache) error {
	if c == nil {
		c = FollowCache{}
	}
	return r.set(ctx, docFollowCache, c)
}

func (r *RedisStore) loadSet(ctx context.Context, doc string) (Set, error) {
	var names []string
	ok, err := r.get(ctx, doc, &names)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Set{}, nil
	}
	return NewSet(names...), nil
}

func (r *RedisStore) get(ctx context.Context, doc string, v any) (bool, error) {
	key := r.key(doc)
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("state document unreadable, starting empty")
		return false, nil
	}
	return true, nil
}

func (r *RedisStore) set(ctx context.Context, doc string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc, err)
	}
	key := r.key(doc)
	if err := r.client.Set(ctx, key, string(data), 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
