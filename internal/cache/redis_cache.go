package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type redisCommander interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisCache struct {
	client redisCommander
}

// NewRedisCache crea la cache de validación respaldada por Redis.
func NewRedisCache(client *redis.Client) ValidationCache {
	if client == nil {
		return nil
	}
	return &redisCache{client: client}
}

func (c *redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// CompareAndDelete borra la clave solo si su valor coincide con expected.
// El script corre atómicamente en Redis, así dos verificaciones
// concurrentes no pueden consumir el mismo OTP.
func (c *redisCache) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := c.client.Eval(ctx, compareAndDeleteScript, []string{key}, expected).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
