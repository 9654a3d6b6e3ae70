package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultRetryConfig(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesSerializationFailure(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("observation insert timed out"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "timed out")
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "42P01", Message: `relation "observation" does not exist`}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(5)
	cfg.InitialBackoff = 50 * time.Millisecond
	calls := 0
	err := Do(ctx, cfg, func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewTransientError(errors.New("conn closed"))
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_CustomShouldRetry(t *testing.T) {
	cfg := fastConfig(3)
	cfg.ShouldRetry = func(err error) bool { return err.Error() == "procedure locked" }
	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("procedure locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), cfg, func(context.Context) error {
		return NewTransientError(errors.New("fail"))
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoVal(t *testing.T) {
	calls := 0
	n, err := DoVal(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 7, NewTransientError(errors.New("deadlock"))
		}
		return 12, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = DoVal(context.Background(), fastConfig(2), func(context.Context) (int, error) {
		return 42, NewTransientError(errors.New("fail"))
	})
	require.Error(t, err)
	assert.Zero(t, n)
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(RetryConfig{JitterFraction: -1})
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Zero(t, cfg.JitterFraction)
}

func TestComputeBackoff(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
	})
	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 400*time.Millisecond, computeBackoff(2, cfg))
	assert.Equal(t, time.Second, computeBackoff(6, cfg))
}

func TestComputeBackoff_Jitter(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.5,
	})
	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		d := computeBackoff(0, cfg)
		seen[d] = true
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
	assert.Greater(t, len(seen), 1)
}

func TestRetryLogger(t *testing.T) {
	log := RetryLogger("sos-coastal", "import")
	assert.NotPanics(t, func() { log(1, errors.New("conn closed")) })
}
