// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// RetryPolicy controls the bounded exponential backoff loop.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialDelay is the delay before the first retry. Default: 100ms.
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff. Default: 5s.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay per attempt. Default: 2.0.
	BackoffFactor float64

	// ShouldRetry decides whether an error is worth another attempt.
	// A nil predicate retries everything.
	ShouldRetry func(error) bool
}

// DefaultRetryPolicy returns production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// BackoffDelay computes the delay before retry attempt n (1-based):
// min(MaxDelay, InitialDelay * BackoffFactor^(n-1)).
func BackoffDelay(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt-1))
	if max := float64(policy.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

// RetryExecutor runs one operation with bounded exponential backoff.
//
// The executor holds no per-call state: it is safe to share one instance
// across concurrent callers with independent policies. Control flow is an
// explicit loop with an attempt counter, never recursion, so cancellation
// is checked at every step.
type RetryExecutor struct {
	logger *slog.Logger

	// sleep is replaceable in tests. The default waits on a timer or the
	// context, whichever fires first.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryExecutor creates an executor. A nil logger falls back to
// slog.Default().
func NewRetryExecutor(logger *slog.Logger) *RetryExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	initMetrics()
	return &RetryExecutor{
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Do runs op until it succeeds, the policy says stop, or ctx is cancelled.
//
// # Description
//
// Attempts run sequentially with a delay of
// min(MaxDelay, InitialDelay*BackoffFactor^(n-1)) before retry n. The loop
// stops early when ShouldRetry returns false for the attempt's error. The
// returned error is always the most recent failure, not the first; on
// cancellation during backoff it is joined with the context error so both
// are visible to errors.Is.
//
// Sleeping suspends only this call, never shared state.
func (e *RetryExecutor) Do(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(err, lastErr)
			}
			return err
		}

		record(retryAttemptsTotal, attribute.Int("attempt", attempt))
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			return lastErr
		}

		delay := BackoffDelay(policy, attempt)
		e.logger.Warn("retrying after failure",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay.String(),
			"error", err.Error(),
		)
		if serr := e.sleep(ctx, delay); serr != nil {
			return errors.Join(serr, lastErr)
		}
	}

	return lastErr
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
