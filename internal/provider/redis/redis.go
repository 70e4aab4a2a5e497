// Package redis implements the Locker interface using Redis/Valkey.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

const defaultPrefix = "metricwatch:"

var _ provider.Locker = (*LockProvider)(nil)

// LockProvider implements provider.Locker backed by Redis/Valkey.
type LockProvider struct {
	client *goredis.Client
	prefix string
}

// New creates a new LockProvider.
func New(cfg *types.RedisConfig) *LockProvider {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewFromClient(client, cfg.KeyPrefix)
}

// NewFromClient creates a LockProvider from an existing client (useful for testing).
func NewFromClient(client *goredis.Client, prefix string) *LockProvider {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &LockProvider{client: client, prefix: prefix}
}

// Ping checks connectivity to the Redis server.
func (p *LockProvider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (p *LockProvider) Close() error {
	return p.client.Close()
}

// AcquireLock attempts to acquire a lock with the given key and TTL.
func (p *LockProvider) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := p.client.SetNX(ctx, p.lockKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock releases a lock.
func (p *LockProvider) ReleaseLock(ctx context.Context, key string) error {
	return p.client.Del(ctx, p.lockKey(key)).Err()
}

func (p *LockProvider) lockKey(key string) string {
	return p.prefix + "lock:" + key
}
