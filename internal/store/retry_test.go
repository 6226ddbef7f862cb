package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/store"
)

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := store.Retry(context.Background(), store.DefaultRetryConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	cfg := store.RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}
	err := store.Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	cfg := store.RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}
	err := store.Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, "permanent", err.Error())
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelled_ReturnsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := store.RetryConfig{Attempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}
	calls := 0
	err := store.Retry(ctx, cfg, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestRetryConfigFromResilience_UsesConfiguredValues(t *testing.T) {
	cfg := store.RetryConfigFromResilience(config.ResilienceConfig{
		RetryAttempts:      5,
		RetryBaseDelay:     2,
		RetryMaxDelay:      60,
		RetryBackoffFactor: 3,
	})
	assert.Equal(t, 5, cfg.Attempts)
	assert.Equal(t, 2*time.Second, cfg.BaseDelay)
	assert.Equal(t, 60*time.Second, cfg.MaxDelay)
	assert.Equal(t, 3.0, cfg.BackoffFactor)
}

func TestRetryConfigFromResilience_ZeroValues_FallBackToDefaults(t *testing.T) {
	cfg := store.RetryConfigFromResilience(config.ResilienceConfig{})
	assert.Equal(t, store.DefaultRetryConfig(), cfg)
}
