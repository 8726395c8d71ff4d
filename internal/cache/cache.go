// Package cache stores computed account profiles so repeated verifications
// against an unchanged history skip the rebuild.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/cadence/internal/domain"
)

var errTenantRequired = fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)

// New creates the cache selected by cfg.Type.
// "none" disables caching and returns a nil cache.
// "memory" is an in-process LRU, "redis" is shared between instances and,
// with EnableTwoPhase, fronted by a local LRU.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Stats describes the local cache tier.
type Stats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// bytesStore is the raw key/value surface every backend provides.
type bytesStore interface {
	Get(ctx context.Context, tenantID, key string) ([]byte, error)
	Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error
}

// profiles layers JSON-encoded profiles over a bytesStore under the
// "profile:" key namespace.
type profiles struct {
	store bytesStore
}

// GetProfile returns the cached profile for key, or nil on a miss.
func (p profiles) GetProfile(ctx context.Context, tenantID, key string) (*domain.AccountProfile, error) {
	data, err := p.store.Get(ctx, tenantID, "profile:"+key)
	if err != nil || data == nil {
		return nil, err
	}
	var out domain.AccountProfile
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode cached profile: %w", err)
	}
	return &out, nil
}

// SetProfile caches a profile for ttl.
func (p profiles) SetProfile(ctx context.Context, tenantID, key string, profile *domain.AccountProfile, ttl time.Duration) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return p.store.Set(ctx, tenantID, "profile:"+key, data, ttl)
}

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2).
// Writes go to both tiers.
type TwoPhaseCache struct {
	profiles
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache connects to Redis and fronts it with a local LRU.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	c := &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
	c.profiles = profiles{store: c}
	return c
}

// Get checks L1, then L2, and fills L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, tenantID, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	return val, nil
}

// Set writes both tiers. L1 keeps the shorter of ttl and its own TTL.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	l1 := c.l1TTL
	if ttl > 0 {
		l1 = min(ttl, l1)
	}
	if err := c.local.Set(ctx, tenantID, key, value, l1); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes key from both tiers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// Ping reports L2 reachability; L1 is always available.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close drops L1 and disconnects L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 statistics.
func (c *TwoPhaseCache) Stats() Stats {
	return c.local.Stats()
}
