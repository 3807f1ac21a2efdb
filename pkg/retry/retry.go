// Package retry provides bounded exponential backoff with jitter for
// calls to external services.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config defines backoff behavior.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// JitterFactor spreads delays by +/- this fraction so concurrent
	// callers do not retry in lockstep.
	JitterFactor float64
}

// DefaultConfig suits short network calls: 3 retries from 100ms, capped
// at 5s, doubling, 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Do runs fn until it succeeds or the retry budget is spent, honoring
// context cancellation between attempts. The last error is returned.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions returning a value.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		result  T
		lastErr error
	)
	delay := cfg.InitialDelay
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(jittered(delay, cfg.JitterFactor)):
		case <-ctx.Done():
			return result, ctx.Err()
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return result, lastErr
}

func jittered(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	offset := float64(delay) * factor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + offset)
}
