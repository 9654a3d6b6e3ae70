// Package resilience retries sensor service calls that fail for transient
// reasons.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retries with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts counts the first try. 1 disables retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the delay after each attempt. Default: 2.
	Multiplier float64

	// JitterFraction spreads each delay by ±fraction. Default: 0.25.
	JitterFraction float64

	// ShouldRetry overrides IsTransient when set.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the configuration used for service imports.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or runs out
// of attempts. Cancelling ctx stops retrying and returns the last error.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !shouldRetry(err) || attempt == cfg.MaxAttempts-1 {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(computeBackoff(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}
	if cfg.JitterFraction > 0 {
		spread := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry of an
// operation against a sensor service.
func RetryLogger(serviceID, operation string) func(int, error) {
	log := zap.L().With(zap.String("component", "resilience"))
	return func(attempt int, err error) {
		log.Warn("resilience: retrying service call",
			zap.String("service", serviceID),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
