//go:build integration

package ratelimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"ricochet.sh/internal/ratelimit"
)

// TestRedisLimiterSharesBucketAcrossClients exercises RedisLimiter against a
// real Redis instance, proving two independently-constructed limiters
// pointed at the same key actually share one bucket. Run with
// `go test -tags integration ./internal/ratelimit/...`.
func TestRedisLimiterSharesBucketAcrossClients(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	a, err := ratelimit.NewRedisLimiter(ctx, addr, 1, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	b, err := ratelimit.NewRedisLimiter(ctx, addr, 1, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	const key = "shared-target"

	ok1, err := a.TryAcquire(ctx, key)
	require.NoError(t, err)
	require.True(t, ok1)

	ok2, err := b.TryAcquire(ctx, key)
	require.NoError(t, err)
	require.True(t, ok2)

	// Burst was 2 and both limiters drew from it, so the bucket is empty.
	ok3, err := a.TryAcquire(ctx, key)
	require.NoError(t, err)
	require.False(t, ok3)
}
