package store

import (
	"context"
	"time"

	"github.com/reviewlane/reviewer/internal/config"
)

// RetryConfig controls the exponential-backoff loop used to retry transient
// store/LLM failures. Grounded in resilience.py's get_resilience_config and
// retry_async/retry_sync.
type RetryConfig struct {
	Attempts      int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig mirrors the documented defaults (3 attempts, 1s base,
// 30s cap, x2 backoff).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:      3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}
}

// RetryConfigFromResilience adapts a config.ResilienceConfig into a RetryConfig.
func RetryConfigFromResilience(rc config.ResilienceConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if rc.RetryAttempts > 0 {
		cfg.Attempts = rc.RetryAttempts
	}
	if rc.RetryBaseDelay > 0 {
		cfg.BaseDelay = time.Duration(rc.RetryBaseDelay * float64(time.Second))
	}
	if rc.RetryMaxDelay > 0 {
		cfg.MaxDelay = time.Duration(rc.RetryMaxDelay * float64(time.Second))
	}
	if rc.RetryBackoffFactor > 0 {
		cfg.BackoffFactor = rc.RetryBackoffFactor
	}
	return cfg
}

// Retry calls fn up to cfg.Attempts times, sleeping with exponential backoff
// between attempts. It returns the last error if every attempt fails, or nil
// as soon as fn succeeds. Returns immediately if ctx is done.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
