package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ricochet.sh/internal/ferrors"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(0, 1)
	require.Error(t, err)
	assert.Equal(t, ferrors.CodeInvalidConfig, ferrors.GetCode(err))

	_, err = New(-5, 1)
	require.Error(t, err)

	_, err = New(10, 0)
	require.Error(t, err)
	assert.Equal(t, ferrors.CodeInvalidConfig, ferrors.GetCode(err))
}

func TestTryAcquireRespectsBurst(t *testing.T) {
	l, err := New(1, 1)
	require.NoError(t, err)

	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	l, err := New(10, 1)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	elapsed := time.Since(start)

	assert.InDelta(t, 100*time.Millisecond, elapsed, float64(50*time.Millisecond))
}

func TestAcquireRespectsCancellation(t *testing.T) {
	l, err := New(1, 1)
	require.NoError(t, err)
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = l.Acquire(ctx)
	assert.Error(t, err)
}

func TestRateAndBurstAccessors(t *testing.T) {
	l, err := New(5, 3)
	require.NoError(t, err)
	assert.Equal(t, 5.0, l.Rate())
	assert.Equal(t, 3, l.Burst())
}
