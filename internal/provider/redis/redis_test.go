//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/metricwatch/internal/provider/providertest"
)

func setupTestProvider(t *testing.T) *LockProvider {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	prefix := fmt.Sprintf("metricwatch-test-%d:", time.Now().UnixNano())
	prov := NewFromClient(client, prefix)

	t.Cleanup(func() {
		var cursor uint64
		for {
			keys, next, err := client.Scan(ctx, cursor, prefix+"*", 100).Result()
			if err != nil {
				break
			}
			if len(keys) > 0 {
				client.Del(ctx, keys...)
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
		client.Close()
	})

	return prov
}

func TestAcquireLock_Exclusive(t *testing.T) {
	p := setupTestProvider(t)
	ctx := context.Background()

	ok, err := p.AcquireLock(ctx, "freshness:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.AcquireLock(ctx, "freshness:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire should fail while held")

	require.NoError(t, p.ReleaseLock(ctx, "freshness:1"))
	ok, err = p.AcquireLock(ctx, "freshness:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireLock_Expires(t *testing.T) {
	p := setupTestProvider(t)
	ctx := context.Background()

	ok, err := p.AcquireLock(ctx, "slow:1", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(250 * time.Millisecond)
	ok, err = p.AcquireLock(ctx, "slow:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerConformance(t *testing.T) {
	providertest.RunLocker(t, setupTestProvider(t), true)
}
