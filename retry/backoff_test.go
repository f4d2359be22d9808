package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/wdl"
)

func TestPolicy_ExponentialDelay(t *testing.T) {
	p := FromConfig(&wdl.RetryConfig{
		Strategy:     wdl.RetryExponentialBackoff,
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	})

	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	// min(10, 1*2^3) = 8
	assert.Equal(t, 8*time.Second, p.Delay(3))
	// capped at max_delay
	assert.Equal(t, 10*time.Second, p.Delay(4))
}

func TestPolicy_LinearDelay(t *testing.T) {
	p := FromConfig(&wdl.RetryConfig{
		Strategy:     wdl.RetryLinearBackoff,
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     5 * time.Second,
	})

	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(3), "capped at max_delay")
}

func TestPolicy_ImmediateAndNone(t *testing.T) {
	immediate := FromConfig(&wdl.RetryConfig{Strategy: wdl.RetryImmediate, MaxAttempts: 3})
	assert.Equal(t, time.Duration(0), immediate.Delay(1))
	assert.True(t, immediate.ShouldRetry(1, errors.New("boom")))

	none := FromConfig(&wdl.RetryConfig{Strategy: wdl.RetryNone})
	assert.False(t, none.ShouldRetry(1, errors.New("boom")))

	assert.False(t, FromConfig(nil).ShouldRetry(1, errors.New("boom")))
}

func TestPolicy_CustomDelay(t *testing.T) {
	p := FromConfig(&wdl.RetryConfig{Strategy: wdl.RetryCustom, MaxAttempts: 3})
	p.Custom = func(attempt int) time.Duration {
		return time.Duration(attempt) * 100 * time.Millisecond
	}

	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
}

func TestPolicy_RetryOnErrorFilter(t *testing.T) {
	p := FromConfig(&wdl.RetryConfig{
		Strategy:    wdl.RetryImmediate,
		MaxAttempts: 3,
		RetryOn:     []types.ErrorCode{types.ErrNodeTimeout},
	})

	timeout := types.NewError(types.ErrNodeTimeout, "timed out")
	other := types.NewError(types.ErrAgentFailed, "agent exploded")

	assert.True(t, p.ShouldRetry(1, timeout))
	assert.False(t, p.ShouldRetry(1, other))
	assert.False(t, p.ShouldRetry(1, errors.New("uncoded")))
}

func TestPolicy_EmptyRetryOnImposesNoFilter(t *testing.T) {
	p := FromConfig(&wdl.RetryConfig{Strategy: wdl.RetryImmediate, MaxAttempts: 3})

	assert.True(t, p.ShouldRetry(1, types.NewError(types.ErrValidationFailed, "bad document")))
	assert.True(t, p.ShouldRetry(1, errors.New("uncoded")))
	assert.False(t, p.ShouldRetry(3, errors.New("uncoded")), "attempts exhausted")
}

func TestRetryer_RetriesUntilSuccess(t *testing.T) {
	p := FromConfig(&wdl.RetryConfig{Strategy: wdl.RetryImmediate, MaxAttempts: 3})
	r := New(p, zap.NewNop())

	attempts := 0
	result, err := r.DoWithResult(context.Background(), func(ctx context.Context) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryer_ExhaustsAttempts(t *testing.T) {
	p := FromConfig(&wdl.RetryConfig{Strategy: wdl.RetryImmediate, MaxAttempts: 2})
	r := New(p, zap.NewNop())

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("persistent")
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryer_ContextCancelDuringDelay(t *testing.T) {
	p := FromConfig(&wdl.RetryConfig{
		Strategy:     wdl.RetryLinearBackoff,
		MaxAttempts:  5,
		InitialDelay: time.Hour,
	})
	r := New(p, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.Do(ctx, func(ctx context.Context) error {
		return errors.New("always")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	p := FromConfig(&wdl.RetryConfig{Strategy: wdl.RetryImmediate, MaxAttempts: 3})
	var observed []int
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		observed = append(observed, attempt)
	}
	r := New(p, zap.NewNop())

	_ = r.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("always")
	})

	assert.Equal(t, []int{1, 2}, observed)
}
