package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cadence:"

// RedisCache stores entries in Redis under cadence:<tenant>:<key>, so
// every service instance sees the same profiles.
type RedisCache struct {
	profiles
	client *redis.Client
}

// NewRedisCache connects to Redis and fails if it cannot be reached.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return NewRedisCacheFromClient(client), nil
}

// NewRedisCacheFromClient wraps an existing client without pinging it.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	c := &RedisCache{client: client}
	c.profiles = profiles{store: c}
	return c
}

func redisKey(tenantID, key string) string {
	return redisKeyPrefix + tenantID + ":" + key
}

// Get returns the value for key, or nil on a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}
	val, err := c.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return val, nil
}

// Set stores value for ttl; zero keeps it until evicted by Redis.
func (c *RedisCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return errTenantRequired
	}
	return c.client.Set(ctx, redisKey(tenantID, key), value, max(ttl, 0)).Err()
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, tenantID, key string) error {
	if tenantID == "" {
		return errTenantRequired
	}
	return c.client.Del(ctx, redisKey(tenantID, key)).Err()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close disconnects the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
