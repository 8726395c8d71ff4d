package domain

import (
	"context"
	"time"
)

// Cache keeps computed profiles keyed by tenant. Get returns nil, nil on a
// miss; a ttl of zero never expires.
type Cache interface {
	Get(ctx context.Context, tenantID, key string) ([]byte, error)
	Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID, key string) error

	GetProfile(ctx context.Context, tenantID, key string) (*AccountProfile, error)
	SetProfile(ctx context.Context, tenantID, key string, profile *AccountProfile, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects the cache: "none", "memory" or "redis". With
// EnableTwoPhase a redis cache is fronted by a local LRU of LocalMaxSize
// entries living at most LocalTTL.
type CacheConfig struct {
	Type string `mapstructure:"type"`

	LocalMaxSize int           `mapstructure:"localMaxSize"`
	LocalTTL     time.Duration `mapstructure:"localTtl"`

	RedisAddr     string `mapstructure:"redisAddr"`
	RedisPassword string `mapstructure:"redisPassword"`
	RedisDB       int    `mapstructure:"redisDb"`

	EnableTwoPhase bool `mapstructure:"enableTwoPhase"`

	// ProfileTTL bounds how long a computed profile stays cached.
	ProfileTTL time.Duration `mapstructure:"profileTtl"`
}
