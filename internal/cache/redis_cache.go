package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const rateKeyPrefix = "kassa:rates:"

type RedisRateCache struct {
	client *redis.Client
}

func NewRedisRateCache(addr string, password string, db int) *RedisRateCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRateCache{client: client}
}

func (c *RedisRateCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRateCache) Close() error {
	return c.client.Close()
}

func (c *RedisRateCache) Get(ctx context.Context, base string) (*RateEntry, bool, error) {
	val, err := c.client.Get(ctx, rateKeyPrefix+base).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry RateEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

func (c *RedisRateCache) Set(ctx context.Context, base string, value *RateEntry, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, rateKeyPrefix+base, payload, ttl).Err()
}
