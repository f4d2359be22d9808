// Package retry implements the per-node retry policies of the
// execution engine: delay strategies, attempt accounting, and error
// filtering against retryable error codes.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/wdl"
)

// Policy is the resolved form of a node's wdl.RetryConfig.
type Policy struct {
	Strategy     wdl.RetryStrategy
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// RetryOn restricts retries to matching error codes. Empty imposes
	// no filter: any failure within MaxAttempts qualifies.
	RetryOn []types.ErrorCode

	// Custom computes the delay when Strategy is RetryCustom.
	Custom func(attempt int) time.Duration

	// OnRetry is invoked before each retry sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// FromConfig resolves a node retry config into a policy. A nil config
// yields a single-attempt policy (no retries).
func FromConfig(cfg *wdl.RetryConfig) *Policy {
	if cfg == nil || cfg.Strategy == "" || cfg.Strategy == wdl.RetryNone {
		return &Policy{Strategy: wdl.RetryNone, MaxAttempts: 1}
	}
	p := &Policy{
		Strategy:     cfg.Strategy,
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		RetryOn:      cfg.RetryOn,
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay returns the sleep duration after the given failed attempt
// (counted from 1).
func (p *Policy) Delay(attempt int) time.Duration {
	switch p.Strategy {
	case wdl.RetryImmediate:
		return 0
	case wdl.RetryExponentialBackoff:
		delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt)))
		return capDelay(delay, p.MaxDelay)
	case wdl.RetryLinearBackoff:
		return capDelay(p.InitialDelay*time.Duration(attempt), p.MaxDelay)
	case wdl.RetryCustom:
		if p.Custom != nil {
			return p.Custom(attempt)
		}
		return p.InitialDelay
	}
	return 0
}

func capDelay(delay, max time.Duration) time.Duration {
	if max > 0 && delay > max {
		return max
	}
	if delay < 0 {
		return 0
	}
	return delay
}

// ShouldRetry reports whether another attempt is allowed after the
// given failed attempt.
func (p *Policy) ShouldRetry(attempt int, err error) bool {
	if p.Strategy == wdl.RetryNone {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if len(p.RetryOn) == 0 {
		return true
	}
	code := types.GetErrorCode(err)
	for _, allowed := range p.RetryOn {
		if code == allowed {
			return true
		}
	}
	return false
}

// Retryer executes functions under a policy.
type Retryer struct {
	policy *Policy
	logger *zap.Logger
}

// New creates a retryer. A nil policy means a single attempt.
func New(policy *Policy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = &Policy{Strategy: wdl.RetryNone, MaxAttempts: 1}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{policy: policy, logger: logger}
}

// Do executes fn, retrying per the policy. The last error is returned
// with the attempt count attached when every attempt fails.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// DoWithResult executes fn and returns its result, retrying per the
// policy.
func (r *Retryer) DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !r.policy.ShouldRetry(attempt, err) {
			break
		}

		delay := r.policy.Delay(attempt)
		r.logger.Debug("retrying after failed attempt",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}

		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		} else if ctx.Err() != nil {
			return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
	}

	return nil, lastErr
}
