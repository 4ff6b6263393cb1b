package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "imageocr:text:"

// Redis stores entries with a server-side expiry.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	text, err := r.rdb.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ioError("Get", key, err)
	}
	return text, true, nil
}

func (r *Redis) Set(ctx context.Context, key, text string) error {
	if err := r.rdb.Set(ctx, redisKey(key), text, r.ttl).Err(); err != nil {
		return ioError("Set", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return ioError("Delete", key, err)
	}
	return nil
}

// ClearExpired is a no-op: redis evicts expired keys itself.
func (r *Redis) ClearExpired(context.Context) (int, error) {
	return 0, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
