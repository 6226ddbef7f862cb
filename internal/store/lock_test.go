package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlane/reviewer/internal/store"
)

func TestRedisLock_AcquireThenRenewSameHolder(t *testing.T) {
	mem := store.NewMemory()
	lock := store.NewRedisLock(mem, "review:leader:sweep", time.Minute)

	acquired, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, acquired)

	renewed, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, renewed, "the same holder renewing should succeed, not fail like a fresh SET NX")
}

func TestRedisLock_SecondHolderCannotAcquireWhileHeld(t *testing.T) {
	mem := store.NewMemory()
	first := store.NewRedisLock(mem, "review:leader:sweep", time.Minute)
	second := store.NewRedisLock(mem, "review:leader:sweep", time.Minute)

	acquired, err := first.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestRedisLock_ReleaseThenSecondHolderCanAcquire(t *testing.T) {
	mem := store.NewMemory()
	first := store.NewRedisLock(mem, "review:leader:sweep", time.Minute)
	second := store.NewRedisLock(mem, "review:leader:sweep", time.Minute)

	_, err := first.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Release(context.Background()))

	acquired, err := second.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLock_ReleaseIsNoopWhenNotHeldByThisToken(t *testing.T) {
	mem := store.NewMemory()
	first := store.NewRedisLock(mem, "review:leader:sweep", time.Minute)
	second := store.NewRedisLock(mem, "review:leader:sweep", time.Minute)

	_, err := first.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, second.Release(context.Background()))

	acquired, err := second.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, acquired, "first's lock must survive second's no-op release")
}
