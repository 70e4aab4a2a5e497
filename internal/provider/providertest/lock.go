package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/metricwatch/internal/provider"
)

// TestLocking verifies acquire, double-acquire, different-key, release, re-acquire.
func TestLocking(t *testing.T, l provider.Locker) {
	ctx := context.Background()

	ok, err := l.AcquireLock(ctx, "ct-lock:freshness:1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.AcquireLock(ctx, "ct-lock:freshness:1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.AcquireLock(ctx, "ct-lock:slowness:1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.ReleaseLock(ctx, "ct-lock:freshness:1"))

	ok, err = l.AcquireLock(ctx, "ct-lock:freshness:1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestLockExpiry verifies locks expire after their TTL.
func TestLockExpiry(t *testing.T, l provider.Locker) {
	ctx := context.Background()

	ok, err := l.AcquireLock(ctx, "ct-expiring-lock", 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.AcquireLock(ctx, "ct-expiring-lock", 2*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(3 * time.Second)

	ok, err = l.AcquireLock(ctx, "ct-expiring-lock", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
