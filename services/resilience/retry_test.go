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
	"fmt"
	"testing"
	"time"
)

// noSleepExecutor records requested delays instead of waiting.
func noSleepExecutor() (*RetryExecutor, *[]time.Duration) {
	e := NewRetryExecutor(nil)
	delays := &[]time.Duration{}
	e.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return e, delays
}

func TestRetryExecutor_SucceedsFirstAttempt(t *testing.T) {
	e, delays := noSleepExecutor()

	calls := 0
	err := e.Do(context.Background(), DefaultRetryPolicy(), func(context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
	if len(*delays) != 0 {
		t.Errorf("expected no sleeps, got %v", *delays)
	}
}

func TestRetryExecutor_ExponentialBackoffDelays(t *testing.T) {
	e, delays := noSleepExecutor()

	policy := RetryPolicy{
		MaxAttempts:   4,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}

	calls := 0
	err := e.Do(context.Background(), policy, func(context.Context) error {
		calls++
		return errUpstream
	})

	if !errors.Is(err, errUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 attempts, got %d", calls)
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, *delays)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], (*delays)[i])
		}
	}
}

func TestRetryExecutor_MaxDelayCap(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:   10,
		InitialDelay:  time.Second,
		MaxDelay:      3 * time.Second,
		BackoffFactor: 2.0,
	}

	if d := BackoffDelay(policy, 1); d != time.Second {
		t.Errorf("attempt 1: expected 1s, got %v", d)
	}
	if d := BackoffDelay(policy, 2); d != 2*time.Second {
		t.Errorf("attempt 2: expected 2s, got %v", d)
	}
	if d := BackoffDelay(policy, 3); d != 3*time.Second {
		t.Errorf("attempt 3: expected the 3s cap, got %v", d)
	}
	if d := BackoffDelay(policy, 8); d != 3*time.Second {
		t.Errorf("attempt 8: expected the 3s cap, got %v", d)
	}
}

func TestRetryExecutor_ShouldRetryStopsEarly(t *testing.T) {
	e, delays := noSleepExecutor()

	permanent := errors.New("invalid request")
	policy := DefaultRetryPolicy()
	policy.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := e.Do(context.Background(), policy, func(context.Context) error {
		calls++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt for a non-retryable error, got %d", calls)
	}
	if len(*delays) != 0 {
		t.Errorf("expected no sleeps, got %v", *delays)
	}
}

func TestRetryExecutor_ReturnsMostRecentError(t *testing.T) {
	e, _ := noSleepExecutor()

	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 3

	calls := 0
	err := e.Do(context.Background(), policy, func(context.Context) error {
		calls++
		return fmt.Errorf("attempt %d failed", calls)
	})

	if err == nil || err.Error() != "attempt 3 failed" {
		t.Errorf("expected the final attempt's error, got %v", err)
	}
}

func TestRetryExecutor_CancellationDuringBackoff(t *testing.T) {
	e := NewRetryExecutor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	e.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := e.Do(ctx, DefaultRetryPolicy(), func(context.Context) error {
		calls++
		return errUpstream
	})

	if calls != 1 {
		t.Errorf("expected no attempts after cancellation, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in the error chain, got %v", err)
	}
	if !errors.Is(err, errUpstream) {
		t.Errorf("expected the last attempt error in the chain, got %v", err)
	}
}

func TestRetryExecutor_CancelledBeforeFirstAttempt(t *testing.T) {
	e, _ := noSleepExecutor()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := e.Do(ctx, DefaultRetryPolicy(), func(context.Context) error {
		calls++
		return nil
	})

	if calls != 0 {
		t.Errorf("expected no attempts on a cancelled context, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
